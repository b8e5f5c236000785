package schema

// IdentityBlockedIPTable represents the 'identity.blockedip' table
type IdentityBlockedIPTable struct {
	Table          string
	ID             string
	IPAddress      string
	BlockType      string
	Reason         string
	FailedAttempts string
	RecentFailures string
	BlockCount     string
	LastAttemptAt  string
	IsPermanent    string
	ExpiresAt      string
	BlockedAt      string
	BlockedBy      string
	UnblockedAt    string
	UnblockedBy    string
}

// IdentityBlockedIP is the schema definition for identity.blockedip
var IdentityBlockedIP = IdentityBlockedIPTable{
	Table:          "identity.blockedip",
	ID:             "id",
	IPAddress:      "ipaddress",
	BlockType:      "blocktype",
	Reason:         "reason",
	FailedAttempts: "failedattempts",
	RecentFailures: "recentfailures",
	BlockCount:     "blockcount",
	LastAttemptAt:  "lastattemptat",
	IsPermanent:    "ispermanent",
	ExpiresAt:      "expiresat",
	BlockedAt:      "blockedat",
	BlockedBy:      "blockedby",
	UnblockedAt:    "unblockedat",
	UnblockedBy:    "unblockedby",
}

// Columns returns all standard column names
func (t IdentityBlockedIPTable) Columns() []string {
	return []string{
		t.ID, t.IPAddress, t.BlockType, t.Reason, t.FailedAttempts, t.RecentFailures,
		t.BlockCount, t.LastAttemptAt, t.IsPermanent, t.ExpiresAt, t.BlockedAt, t.BlockedBy,
		t.UnblockedAt, t.UnblockedBy,
	}
}
