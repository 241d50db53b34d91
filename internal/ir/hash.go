package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainViolation = "okk/violation/v1"
	DomainLogic     = "okk/logic/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ViolationID computes the stable identity of a violation from its natural key.
// Replaying a window produces the same ID, so the row is upserted rather than duplicated.
func ViolationID(ruleCode, subjectKey string) string {
	obj := Object{
		"rule_code":   String(ruleCode),
		"subject_key": String(subjectKey),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// Strings always marshal.
		panic(fmt.Sprintf("ViolationID: %v", err))
	}
	return hashWithDomain(DomainViolation, canonical)
}

// LogicHash fingerprints a rule's logic so reports can tell which revision of a
// rule produced a violation.
func LogicHash(l Logic) (string, error) {
	canonical, err := MarshalCanonical(l.toObject())
	if err != nil {
		return "", fmt.Errorf("LogicHash: %w", err)
	}
	return hashWithDomain(DomainLogic, canonical), nil
}
