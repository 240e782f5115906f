package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/alexander-uploads/internal/domain"
)

// Key layout shared by every session store:
//
//	PK     = USER#<sub>
//	SK     = SESS#<yyyyMMddHHmmss>#<id>
//	GSI1PK = UPL#<id>                        GSI1SK = SK
//	GSI2PK = STATUS#<status>                 GSI2SK = <ts>#USER#<sub>#<id>
//	GSI3PK = USER#<sub>#STATUS#<status>      GSI3SK = <ts>#<id>
//
// Part records:
//
//	PK     = USER#<sub>                      SK     = PART#<id>#<nnnnn>
//	GSI1PK = UPL#<id>                        GSI1SK = PART#<nnnnn>
//
// Session id claims, written with the session in one transaction by stores
// without a unique secondary index:
//
//	PK     = UPL#<id>                        SK     = UPL#<id>
const (
	// TimestampLayout formats the time component of sort keys.
	TimestampLayout = "20060102150405"

	// SessionSKPrefix starts every session sort key.
	SessionSKPrefix = "SESS#"

	// PartSKPrefix starts every part sort key.
	PartSKPrefix = "PART#"

	// EntitySession and EntityPart tag the item kind.
	EntitySession = "session"
	EntityPart    = "part"

	// EntityClaim tags the item reserving a session id.
	EntityClaim = "claim"
)

// SessionKeys holds the primary key and every projection of a session.
type SessionKeys struct {
	PK     string
	SK     string
	GSI1PK string
	GSI1SK string
	StatusProjection
}

// StatusProjection holds the index keys derived from the status.
type StatusProjection struct {
	GSI2PK string
	GSI2SK string
	GSI3PK string
	GSI3SK string
}

// Timestamp formats t for use in sort keys.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// OwnerPK returns the partition key of a user.
func OwnerPK(userSub string) string {
	return "USER#" + userSub
}

// SessionSK returns the sort key of a session.
func SessionSK(ts, sessionID string) string {
	return SessionSKPrefix + ts + "#" + sessionID
}

// SessionIDKey returns the GSI1 partition key of a session id.
func SessionIDKey(sessionID string) string {
	return "UPL#" + sessionID
}

// StatusKey returns the GSI2 partition key of a status.
func StatusKey(status domain.UploadStatus) string {
	return "STATUS#" + string(status)
}

// OwnerStatusKey returns the GSI3 partition key of a user and status.
func OwnerStatusKey(userSub string, status domain.UploadStatus) string {
	return OwnerPK(userSub) + "#STATUS#" + string(status)
}

// ProjectionFor computes the status projections of a session.
func ProjectionFor(ts, userSub, sessionID string, status domain.UploadStatus) StatusProjection {
	return StatusProjection{
		GSI2PK: StatusKey(status),
		GSI2SK: ts + "#USER#" + userSub + "#" + sessionID,
		GSI3PK: OwnerStatusKey(userSub, status),
		GSI3SK: ts + "#" + sessionID,
	}
}

// KeysFor computes every key of a session.
func KeysFor(s *domain.UploadSession) SessionKeys {
	ts := Timestamp(s.StartedAt)
	sk := SessionSK(ts, s.UploadID)
	return SessionKeys{
		PK:               OwnerPK(s.UserSub),
		SK:               sk,
		GSI1PK:           SessionIDKey(s.UploadID),
		GSI1SK:           sk,
		StatusProjection: ProjectionFor(ts, s.UserSub, s.UploadID, s.Status),
	}
}

// TimestampFromSK extracts the timestamp component of a session sort key.
func TimestampFromSK(sk string) (string, error) {
	parts := strings.SplitN(sk, "#", 3)
	if len(parts) != 3 || parts[0]+"#" != SessionSKPrefix {
		return "", fmt.Errorf("malformed session sort key %q", sk)
	}
	return parts[1], nil
}

// PartSK returns the sort key of a part record.
func PartSK(sessionID string, partNumber int32) string {
	return fmt.Sprintf("%s%s#%05d", PartSKPrefix, sessionID, partNumber)
}

// PartIndexSK returns the GSI1 sort key of a part record.
func PartIndexSK(partNumber int32) string {
	return fmt.Sprintf("%s%05d", PartSKPrefix, partNumber)
}
