package router

import "fmt"

func inboxPrompt(sender, message string) string {
	return fmt.Sprintf("You received a message from %s:\n\n\"%s\"\n\n", sender, message) +
		"IMPORTANT RULES FOR THIS RESPONSE:\n" +
		"1. You MUST provide a COMPLETE answer in this response. Do NOT say \"I'll get back to you\" or " +
		"\"let me check and follow up\". There is NO follow-up mechanism. This is your only chance to respond.\n" +
		"2. Use your tools to look up information BEFORE responding: get_my_contacts to find relevant contacts, " +
		"check_inbox and list_conversations for earlier exchanges, get_active_tasks for work in progress.\n" +
		"3. If someone asks for recommendations, give specific answers based on what you know. " +
		"If you have no experience, say so honestly.\n" +
		fmt.Sprintf("4. Do NOT use send_message_to_contact to reply to %s. Your text response will be sent back automatically.\n", sender) +
		"5. If it's casual chat, just reply naturally like a friend.\n" +
		"Be helpful and specific."
}

func directPrompt(sender, message string) string {
	return fmt.Sprintf("You received a message from %s:\n\n\"%s\"\n\nPlease respond naturally and conversationally.", sender, message)
}
