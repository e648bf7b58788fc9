package a2a

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PlatformScheme prefixes contact URLs that point at another platform user.
const PlatformScheme = "platform://user/"

const cardSuffix = "/.well-known/agent-card.json"

// ErrUntrusted is returned for agent URLs outside the trusted set.
var ErrUntrusted = errors.New("agent_card_url is not trusted")

// Addresses derives this service's public protocol URLs.
type Addresses struct {
	BaseURL string
}

func NewAddresses(baseURL string) Addresses {
	return Addresses{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (a Addresses) CardURL(handle string) string {
	return a.BaseURL + "/a2a/" + handle + cardSuffix
}

func (a Addresses) RPCURL(handle string) string {
	return a.BaseURL + "/a2a/" + handle + "/rpc"
}

// InternalHandle reports the platform handle a sender URL refers to, either
// as platform://user/<h> or as this service's own card URL.
func (a Addresses) InternalHandle(senderURL string) (string, bool) {
	raw := strings.TrimSpace(senderURL)
	if raw == "" {
		return "", false
	}
	if h, ok := strings.CutPrefix(raw, PlatformScheme); ok {
		h = strings.Trim(h, "/")
		return h, h != ""
	}
	prefix := a.BaseURL + "/a2a/"
	if strings.HasPrefix(raw, prefix) && strings.HasSuffix(raw, cardSuffix) {
		h := strings.Trim(raw[len(prefix):len(raw)-len(cardSuffix)], "/")
		return h, h != ""
	}
	return "", false
}

// Resolve rewrites platform://user/<h> into the user's public card URL and
// returns other URLs unchanged.
func (a Addresses) Resolve(cardURL string) string {
	if h, ok := strings.CutPrefix(strings.TrimSpace(cardURL), PlatformScheme); ok {
		return a.CardURL(strings.Trim(h, "/"))
	}
	return strings.TrimSpace(cardURL)
}

// AgentRegistry reports whether a card URL belongs to a pre-registered agent.
type AgentRegistry interface {
	IsTrustedAgentURL(cardURL string) (bool, error)
}

// TrustPolicy admits platform users and registered agents.
type TrustPolicy struct {
	Addresses Addresses
	Registry  AgentRegistry
}

// Check returns ErrUntrusted unless cardURL is a platform user, one of this
// service's own cards, or a registered agent.
func (p TrustPolicy) Check(cardURL string) error {
	url := strings.TrimSpace(cardURL)
	if url == "" {
		return fmt.Errorf("missing agent_card_url: %w", ErrUntrusted)
	}
	if _, ok := p.Addresses.InternalHandle(url); ok {
		return nil
	}
	if p.Registry == nil {
		return ErrUntrusted
	}
	ok, err := p.Registry.IsTrustedAgentURL(url)
	if err != nil {
		return fmt.Errorf("checking agent registry: %w", err)
	}
	if !ok {
		return ErrUntrusted
	}
	return nil
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ExternalConversationID threads inbound protocol messages per sender.
func ExternalConversationID(recipient, sender, seed string) string {
	return fmt.Sprintf("conv_ext_%s_%s_%s", strings.ToLower(recipient), strings.ToLower(sender), sha1Hex(seed)[:8])
}

// ContactConversationID is the protocol-level thread id an owner uses with one
// agent URL when no conversation is pinned.
func ContactConversationID(owner, cardURL string) string {
	seed := strings.ToLower(owner) + "::" + strings.ToLower(cardURL)
	return "conv_a2a_" + sha1Hex(seed)[:10]
}

// PairConversationID is the owner-side inbox thread mirroring outreach to a
// contact.
func PairConversationID(a, b string) string {
	pair := []string{strings.ToLower(a), strings.ToLower(b)}
	sort.Strings(pair)
	return "conv_" + strings.Join(pair, "_")
}
