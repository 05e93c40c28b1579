package voting

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/marcelojr/provote/internal/domain"
)

// voterIdentity resolve quem está votando: usuário autenticado ou token anônimo.
type voterIdentity struct {
	userID *domain.UserID
	token  string
	key    string
}

// resolveVoter deriva o token anônimo do fingerprint quando o cliente não envia um,
// mantendo uma identidade por dispositivo em cada enquete.
func resolveVoter(actor domain.Actor, voterToken, fingerprint string) voterIdentity {
	if actor.Authenticated() {
		id := actor.UserID
		return voterIdentity{userID: &id, token: voterToken, key: "user:" + string(id)}
	}
	token := voterToken
	if token == "" && fingerprint != "" {
		token = sha256Hex("voter|" + fingerprint)
	}
	if token == "" {
		return voterIdentity{}
	}
	return voterIdentity{token: token, key: "token:" + token}
}

// DeriveIdempotencyKey é usada quando o cliente não envia Idempotency-Key.
func DeriveIdempotencyKey(actor domain.Actor, pollID domain.PollID, optionID domain.OptionID, fingerprint, ip string) string {
	who := "anon"
	if actor.Authenticated() {
		who = string(actor.UserID)
	}
	return sha256Hex(fmt.Sprintf("%s|%s|%s|%s|%s", who, pollID, optionID, fingerprint, ip))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
