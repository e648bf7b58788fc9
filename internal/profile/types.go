package profile

// Preferences is the per-user configuration that drives routing and the
// user's agent persona.
type Preferences struct {
	Handle            string `json:"handle"`
	DisplayName       string `json:"display_name"`
	AgentInstructions string `json:"agent_instructions"`
	AutoInboxEnabled  bool   `json:"auto_inbox_enabled"`
	A2AMaxTurns       int    `json:"a2a_max_turns"`
}

// Patch carries optional changes. Nil fields are left as they are.
type Patch struct {
	DisplayName       *string `json:"display_name,omitempty"`
	AgentInstructions *string `json:"agent_instructions,omitempty"`
	AutoInboxEnabled  *bool   `json:"auto_inbox_enabled,omitempty"`
	A2AMaxTurns       *int    `json:"a2a_max_turns,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.DisplayName == nil && p.AgentInstructions == nil && p.AutoInboxEnabled == nil && p.A2AMaxTurns == nil
}
