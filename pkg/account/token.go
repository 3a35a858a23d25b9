package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// GenerateToken derives a 64 hex character bearer token from the username,
// the account id (when known), the current time and 16 random bytes.
func GenerateToken(username string, id int64) (string, error) {
	var random [16]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", fmt.Errorf("account: read random: %w", err)
	}

	idPart := "new"
	if id > 0 {
		idPart = strconv.FormatInt(id, 10)
	}
	data := fmt.Sprintf("%s:%s:%d:%s", username, idPart, time.Now().UnixMilli(), hex.EncodeToString(random[:]))

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:]), nil
}
