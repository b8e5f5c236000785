package schema

// IdentitySessionTable represents the 'identity.session' table
type IdentitySessionTable struct {
	Table            string
	ID               string
	UserID           string
	SessionTokenHash string
	RefreshTokenID   string
	DeviceID         string
	DeviceName       string
	Browser          string
	OS               string
	IPAddress        string
	Country          string
	City             string
	IsCurrent        string
	IsActive         string
	StepUpRequired   string
	SteppedUpAt      string
	LastActivityAt   string
	ExpiresAt        string
	EndedAt          string
	EndReason        string
	CreatedAt        string
}

// IdentitySession is the schema definition for identity.session
var IdentitySession = IdentitySessionTable{
	Table:            "identity.session",
	ID:               "id",
	UserID:           "userid",
	SessionTokenHash: "sessiontokenhash",
	RefreshTokenID:   "refreshtokenid",
	DeviceID:         "deviceid",
	DeviceName:       "devicename",
	Browser:          "browser",
	OS:               "os",
	IPAddress:        "ipaddress",
	Country:          "country",
	City:             "city",
	IsCurrent:        "iscurrent",
	IsActive:         "isactive",
	StepUpRequired:   "stepuprequired",
	SteppedUpAt:      "steppedupat",
	LastActivityAt:   "lastactivityat",
	ExpiresAt:        "expiresat",
	EndedAt:          "endedat",
	EndReason:        "endreason",
	CreatedAt:        "createdat",
}

// Columns returns all standard column names
func (t IdentitySessionTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.SessionTokenHash, t.RefreshTokenID, t.DeviceID, t.DeviceName,
		t.Browser, t.OS, t.IPAddress, t.Country, t.City, t.IsCurrent, t.IsActive,
		t.StepUpRequired, t.SteppedUpAt, t.LastActivityAt, t.ExpiresAt, t.EndedAt, t.EndReason, t.CreatedAt,
	}
}
