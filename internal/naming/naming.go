// Package naming derives the systematic store and layer names every
// published asset carries. Names are pure functions of their inputs,
// so republishing the same asset always targets the same store.
package naming

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	maxStemLen = 20
	maxNameLen = 60
)

// Generate builds the systematic name:
//
//	{workspace}_{owner8}_{folder6}_{stem<=20}_{id8}
//
// owner8 and id8 are the first 8 hex chars of the respective UUIDs,
// folder6 the first 6 of md5(folderPath). The result only contains
// [A-Za-z0-9_] and never exceeds 60 chars; the stem is the part that
// gives way when the name runs long, so the discriminating tokens
// survive and two assets differing only in a long stem still collide
// nowhere thanks to the id component.
func Generate(workspace string, ownerID uuid.UUID, folderPath, stem string, assetID uuid.UUID) string {
	ownerTok := strings.ReplaceAll(ownerID.String(), "-", "")[:8]
	idTok := strings.ReplaceAll(assetID.String(), "-", "")[:8]

	folderSum := md5.Sum([]byte(folderPath))
	folderTok := hex.EncodeToString(folderSum[:])[:6]

	stemTok := sanitize(stem)
	if len(stemTok) > maxStemLen {
		stemTok = stemTok[:maxStemLen]
	}
	if stemTok == "" {
		stemTok = "layer"
	}

	name := fmt.Sprintf("%s_%s_%s_%s_%s", sanitize(workspace), ownerTok, folderTok, stemTok, idTok)
	if len(name) > maxNameLen {
		// Trim from the stem, never from the discriminating tokens.
		over := len(name) - maxNameLen
		if over < len(stemTok) {
			stemTok = stemTok[:len(stemTok)-over]
		} else {
			stemTok = ""
		}
		name = fmt.Sprintf("%s_%s_%s_%s_%s", sanitize(workspace), ownerTok, folderTok, stemTok, idTok)
		if len(name) > maxNameLen {
			name = name[:maxNameLen]
		}
	}
	return name
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	return b.String()
}
