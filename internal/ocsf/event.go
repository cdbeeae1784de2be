// Package ocsf holds the Open Cybersecurity Schema Framework record shape
// produced by the transformation pipeline.
package ocsf

// SchemaVersion is the OCSF version stamped by Builder.
const SchemaVersion = "1.6.0"

// RequiredFields lists the top-level keys a transformed record must carry.
var RequiredFields = []string{
	"metadata",
	"category_uid", "category_name",
	"class_uid", "class_name",
	"time",
	"type_uid", "type_name",
	"activity_id", "activity_name",
	"status", "status_id",
	"severity", "severity_id",
}

type Event struct {
	Metadata     Metadata `json:"metadata" yaml:"metadata"`
	CategoryUID  int32    `json:"category_uid" yaml:"category_uid"`
	CategoryName string   `json:"category_name" yaml:"category_name" validate:"required"`
	ClassUID     int32    `json:"class_uid" yaml:"class_uid"`
	ClassName    string   `json:"class_name" yaml:"class_name" validate:"required"`
	Time         int64    `json:"time" yaml:"time"`
	TypeUID      int32    `json:"type_uid" yaml:"type_uid"`
	TypeName     string   `json:"type_name" yaml:"type_name" validate:"required"`
	ActivityID   int32    `json:"activity_id" yaml:"activity_id"`
	ActivityName string   `json:"activity_name" yaml:"activity_name" validate:"required"`
	Status       string   `json:"status" yaml:"status" validate:"required"`
	StatusID     int32    `json:"status_id" yaml:"status_id" validate:"min=0,max=99"`
	Severity     string   `json:"severity" yaml:"severity" validate:"required"`
	SeverityID   int32    `json:"severity_id" yaml:"severity_id" validate:"min=0,max=99"`

	User           *User          `json:"user,omitempty" yaml:"user,omitempty"`
	Actor          *Actor         `json:"actor,omitempty" yaml:"actor,omitempty"`
	Service        *Service       `json:"service,omitempty" yaml:"service,omitempty"`
	SrcEndpoint    *Endpoint      `json:"src_endpoint,omitempty" yaml:"src_endpoint,omitempty"`
	DstEndpoint    *Endpoint      `json:"dst_endpoint,omitempty" yaml:"dst_endpoint,omitempty"`
	AuthProtocol   *string        `json:"auth_protocol,omitempty" yaml:"auth_protocol,omitempty"`
	AuthProtocolID *int32         `json:"auth_protocol_id,omitempty" yaml:"auth_protocol_id,omitempty"`
	LogonType      *string        `json:"logon_type,omitempty" yaml:"logon_type,omitempty"`
	LogonTypeID    *int32         `json:"logon_type_id,omitempty" yaml:"logon_type_id,omitempty"`
	LogonProcess   *Process       `json:"logon_process,omitempty" yaml:"logon_process,omitempty"`
	IsRemote       *bool          `json:"is_remote,omitempty" yaml:"is_remote,omitempty"`
	IsMFA          *bool          `json:"is_mfa,omitempty" yaml:"is_mfa,omitempty"`
	IsCleartext    *bool          `json:"is_cleartext,omitempty" yaml:"is_cleartext,omitempty"`
	StatusCode     *string        `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	StatusDetail   *string        `json:"status_detail,omitempty" yaml:"status_detail,omitempty"`
	Message        *string        `json:"message,omitempty" yaml:"message,omitempty"`
	RawData        *string        `json:"raw_data,omitempty" yaml:"raw_data,omitempty"`
	Observables    []Observable   `json:"observables,omitempty" yaml:"observables,omitempty" validate:"omitempty,dive"`
	Unmapped       map[string]any `json:"unmapped,omitempty" yaml:"unmapped,omitempty"`
	TimezoneOffset *int32         `json:"timezone_offset,omitempty" yaml:"timezone_offset,omitempty"`
}

type Metadata struct {
	UID          *string  `json:"uid,omitempty" yaml:"uid,omitempty"`
	Version      string   `json:"version" yaml:"version" validate:"required"`
	Product      Product  `json:"product" yaml:"product"`
	LoggedTime   *int64   `json:"logged_time,omitempty" yaml:"logged_time,omitempty"`
	LogName      *string  `json:"log_name,omitempty" yaml:"log_name,omitempty"`
	LogProvider  *string  `json:"log_provider,omitempty" yaml:"log_provider,omitempty"`
	EventCode    *string  `json:"event_code,omitempty" yaml:"event_code,omitempty"`
	Profiles     []string `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	LogVersion   *string  `json:"log_version,omitempty" yaml:"log_version,omitempty"`
	LogLevel     *string  `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	OriginalTime *string  `json:"original_time,omitempty" yaml:"original_time,omitempty"`
}

type Product struct {
	VendorName string `json:"vendor_name" yaml:"vendor_name" validate:"required"`
	Name       string `json:"name" yaml:"name" validate:"required"`
	Version    string `json:"version" yaml:"version"`
}

type User struct {
	Name string `json:"name" yaml:"name"`
	UID  string `json:"uid" yaml:"uid"`
}

type Actor struct {
	User User `json:"user" yaml:"user"`
}

type Service struct {
	Name string `json:"name" yaml:"name"`
}

type Endpoint struct {
	IP       *string `json:"ip,omitempty" yaml:"ip,omitempty"`
	Hostname *string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Port     *int32  `json:"port,omitempty" yaml:"port,omitempty"`
}

type Process struct {
	Name    string `json:"name" yaml:"name"`
	CmdLine string `json:"cmd_line" yaml:"cmd_line"`
	UID     string `json:"uid" yaml:"uid"`
	PID     *int32 `json:"pid,omitempty" yaml:"pid,omitempty"`
}

type Observable struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Type   string `json:"type" yaml:"type"`
	TypeID int32  `json:"type_id" yaml:"type_id"`
	Value  string `json:"value" yaml:"value"`
}
