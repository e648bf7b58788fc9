package tasks

import (
	"fmt"
	"strings"
)

// template is the prompt an intent is wrapped in, plus the phase names the
// agent's narration is matched against.
type template struct {
	name   string
	prompt func(intent string) string
	phases []string
}

var genericTemplate = template{
	name: "generic",
	prompt: func(intent string) string {
		return fmt.Sprintf(genericPrompt, intent)
	},
	phases: []string{"research", "gather opinions", "shop & compare", "negotiate", "recommend"},
}

var socialPulseTemplate = template{
	name: "social pulse",
	prompt: func(intent string) string {
		return fmt.Sprintf(socialPulsePrompt, intent)
	},
	phases: []string{"pick friends", "conversation", "back-and-forth", "wrap up", "catching up"},
}

var feedEngagementTemplate = template{
	name: "feed engagement",
	prompt: func(string) string {
		return feedEngagementPrompt
	},
	phases: []string{"gather context", "evaluate", "engage", "react", "comment", "post"},
}

// templateFor picks the template by case-insensitive intent prefix.
func templateFor(intent string) template {
	lower := strings.ToLower(strings.TrimSpace(intent))
	switch {
	case strings.HasPrefix(lower, socialPulseTemplate.name):
		return socialPulseTemplate
	case strings.HasPrefix(lower, feedEngagementTemplate.name):
		return feedEngagementTemplate
	default:
		return genericTemplate
	}
}

// phaseOf returns the upper-cased first phase named in text, or "".
func (t template) phaseOf(text string) string {
	lower := strings.ToLower(text)
	for _, p := range t.phases {
		if strings.Contains(lower, p) {
			return strings.ToUpper(p)
		}
	}
	return ""
}

const genericPrompt = `You have been given a BACKGROUND TASK to complete autonomously.

TASK: %s

Work through these phases IN ORDER. After finishing each phase, summarise what you learned before moving to the next.

PHASE 1: RESEARCH
  Identify relevant contacts, both friends and merchants, using get_my_contacts.
  Check check_inbox for anything related that arrived recently.

PHASE 2: GATHER OPINIONS
  Ask friends conversationally with send_message_to_contact. For example: "Hey, have you tried X?"
  Collect their recommendations, pros and cons, and price info.

PHASE 3: SHOP & COMPARE
  Contact relevant merchants. Ask about products, prices, availability and deals.
  Build a comparison of at least 2-3 options where possible.

PHASE 4: NEGOTIATE
  For top choices, attempt to negotiate 15-20%% below listed price.
  Note any discounts or special offers obtained.

PHASE 5: RECOMMEND
  Synthesize everything into a clear recommendation: top pick with reasoning, price, alternatives, and what friends said.
  DO NOT commit to any purchase. Present the recommendation and wait for user approval.

Be conversational and natural when talking to friends and merchants.
`

const socialPulsePrompt = `You have a SOCIAL PULSE task. Time to catch up with your friends like a real person would.

TOPIC SEED: %s

1. GATHER CONTEXT FIRST. Call list_conversations to see past chats with friends, and check_inbox for anything unanswered.

2. PICK FRIENDS. Use get_my_contacts and choose 1-2 friends you haven't talked to recently.

3. START A REAL CONVERSATION. Message each friend with send_message_to_contact. Pick a natural topic and vary your opener:
   what they've been up to, something you recently discovered, a recommendation request, or a past conversation worth following up.

4. HAVE A BACK-AND-FORTH. Read their reply and answer naturally. Aim for 2-3 exchanges per friend.

5. WRAP UP. End warmly: "Great catching up!", "Let's chat again soon".

RULES:
- Never fabricate stories or experiences. Only reference things from your actual conversations.
- Be casual and warm. You're texting a friend, not writing an email.
- After calling send_message_to_contact you receive their reply immediately. Continue from what they said.
- Never say "I'll wait for their response". You already have it.
`

const feedEngagementPrompt = `You have a FEED ENGAGEMENT task. Check in on what your network has been sharing and interact where it matters.

1. GATHER CONTEXT. Call list_conversations and check_inbox to see what your contacts have sent recently.

2. EVALUATE. For each item, consider whether it is relevant to your owner and whether it came from someone your owner interacts with.

3. ENGAGE SELECTIVELY. Pick 2-4 items at most:
   a) REACT: send a short acknowledgement to the contact with send_message_to_contact.
   b) COMMENT: for 1-2 items add something genuinely useful or ask a follow-up question.

4. OPTIONALLY POST. If your owner did something worth sharing, tell the relevant friends.

Be selective. If nothing is relevant, that's OK. Just skip this round.
`
