package matching

import (
	"encoding/json"
	"log"
)

// FoundPayload is published on match.found.<user_id> to each member of a
// fresh pairing.
type FoundPayload struct {
	SessionID       string `json:"session_id"`
	PartnerID       string `json:"partner_id"`
	PartnerNickname string `json:"partner_nickname"`
}

// announce publishes the match result to both members. Announcement is
// best-effort: the presence records and the session row are already
// committed, and a member who misses the publish learns about the pairing
// from their presence change event.
func (e *Engine) announce(sessionID, userA, nicknameA, userB, nicknameB string) {
	if e.announcer == nil {
		return
	}

	forA := FoundPayload{SessionID: sessionID, PartnerID: userB, PartnerNickname: nicknameB}
	dataA, err := json.Marshal(forA)
	if err == nil {
		if err := e.announcer.PublishMatchFound(userA, dataA); err != nil {
			log.Printf("[matcher] publish match.found for %s: %v", userA, err)
		}
	}

	forB := FoundPayload{SessionID: sessionID, PartnerID: userA, PartnerNickname: nicknameA}
	dataB, err := json.Marshal(forB)
	if err == nil {
		if err := e.announcer.PublishMatchFound(userB, dataB); err != nil {
			log.Printf("[matcher] publish match.found for %s: %v", userB, err)
		}
	}

	log.Printf("[matcher] match published: session=%s a=%s b=%s", sessionID, userA, userB)
}
