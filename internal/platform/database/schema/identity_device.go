package schema

// IdentityDeviceTable represents the 'identity.device' table
type IdentityDeviceTable struct {
	Table       string
	ID          string
	UserID      string
	DeviceID    string
	DeviceName  string
	DeviceType  string
	Browser     string
	OS          string
	Fingerprint string
	IsTrusted   string
	TrustedAt   string
	PushToken   string
	LastIP      string
	FirstSeenAt string
	LastSeenAt  string
}

// IdentityDevice is the schema definition for identity.device
var IdentityDevice = IdentityDeviceTable{
	Table:       "identity.device",
	ID:          "id",
	UserID:      "userid",
	DeviceID:    "deviceid",
	DeviceName:  "devicename",
	DeviceType:  "devicetype",
	Browser:     "browser",
	OS:          "os",
	Fingerprint: "fingerprint",
	IsTrusted:   "istrusted",
	TrustedAt:   "trustedat",
	PushToken:   "pushtoken",
	LastIP:      "lastip",
	FirstSeenAt: "firstseenat",
	LastSeenAt:  "lastseenat",
}

// Columns returns all standard column names
func (t IdentityDeviceTable) Columns() []string {
	return []string{
		t.ID, t.UserID, t.DeviceID, t.DeviceName, t.DeviceType, t.Browser,
		t.OS, t.Fingerprint, t.IsTrusted, t.TrustedAt, t.PushToken, t.LastIP,
		t.FirstSeenAt, t.LastSeenAt,
	}
}
