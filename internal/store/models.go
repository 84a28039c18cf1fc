package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONB")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*j = JSONB{}
		return nil
	}

	result := make(JSONB)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*j = result
	return nil
}

// JSONList stores a JSON array column (transcripts, responses).
type JSONList []map[string]interface{}

func (l JSONList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *JSONList) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*l = JSONList{}
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONList")
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		*l = JSONList{}
		return nil
	}
	return json.Unmarshal(bytes, (*[]map[string]interface{})(l))
}

// StringArray is a custom type for PostgreSQL text[] arrays
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for StringArray
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return fmt.Errorf("unsupported type for StringArray: %T", value)
	}

	str = strings.Trim(str, "{}")
	if str == "" {
		*a = StringArray{}
		return nil
	}

	parts := strings.Split(str, ",")
	out := make(StringArray, len(parts))
	for i, p := range parts {
		p = strings.TrimSuffix(strings.TrimPrefix(p, `"`), `"`)
		out[i] = strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(p)
	}
	*a = out
	return nil
}

// Float64Array maps a PostgreSQL float8[] column, used for embeddings.
type Float64Array []float64

func (a Float64Array) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte('}')
	return b.String(), nil
}

func (a *Float64Array) Scan(value interface{}) error {
	var str string
	switch v := value.(type) {
	case nil:
		*a = Float64Array{}
		return nil
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return fmt.Errorf("unsupported type for Float64Array: %T", value)
	}
	str = strings.Trim(str, "{}")
	if str == "" {
		*a = Float64Array{}
		return nil
	}
	parts := strings.Split(str, ",")
	out := make(Float64Array, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid float8 element %q: %w", p, err)
		}
		out[i] = f
	}
	*a = out
	return nil
}

type Tenant struct {
	ID               uuid.UUID `db:"id"`
	Name             string    `db:"name"`
	Status           string    `db:"status"`
	MaxUsers         int       `db:"max_users"`
	MaxCallsPerMonth int       `db:"max_calls_per_month"`
	MaxStorageMB     int       `db:"max_storage_mb"`
	Features         JSONB     `db:"features"`
	Settings         JSONB     `db:"settings"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type User struct {
	ID                  uuid.UUID  `db:"id"`
	TenantID            uuid.UUID  `db:"tenant_id"`
	Email               string     `db:"email"`
	Username            string     `db:"username"`
	PasswordHash        string     `db:"password_hash"`
	Role                string     `db:"role"`
	Status              string     `db:"status"`
	EmailVerified       bool       `db:"email_verified"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LockedUntil         *time.Time `db:"locked_until"`
	LastLoginAt         *time.Time `db:"last_login_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

type Call struct {
	ID                   uuid.UUID   `db:"id"`
	TenantID             uuid.UUID   `db:"tenant_id"`
	CallerNumber         string      `db:"caller_number"`
	Direction            string      `db:"direction"`
	Priority             string      `db:"priority"`
	Status               string      `db:"status"`
	Language             string      `db:"language"`
	SessionID            *string     `db:"session_id"`
	StartedAt            *time.Time  `db:"started_at"`
	EndedAt              *time.Time  `db:"ended_at"`
	DurationSeconds      *float64    `db:"duration_seconds"`
	AudioFiles           StringArray `db:"audio_files"`
	Transcript           JSONList    `db:"transcript"`
	LLMResponses         JSONList    `db:"llm_responses"`
	ContextData          JSONB       `db:"context_data"`
	TriggeredAutomations StringArray `db:"triggered_automations"`
	SatisfactionScore    *int        `db:"satisfaction_score"`
	Resolved             bool        `db:"resolved"`
	ResolutionNotes      *string     `db:"resolution_notes"`
	ErrorMessages        StringArray `db:"error_messages"`
	EndReason            *string     `db:"end_reason"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

type KnowledgeDocument struct {
	ID         uuid.UUID `db:"id"`
	TenantID   uuid.UUID `db:"tenant_id"`
	Title      string    `db:"title"`
	Filename   string    `db:"filename"`
	SizeBytes  int64     `db:"size_bytes"`
	Status     string    `db:"status"`
	ChunkCount int       `db:"chunk_count"`
	Error      *string   `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type KnowledgeChunk struct {
	ID         uuid.UUID    `db:"id"`
	TenantID   uuid.UUID    `db:"tenant_id"`
	DocumentID uuid.UUID    `db:"document_id"`
	ChunkIndex int          `db:"chunk_index"`
	Content    string       `db:"content"`
	TokenCount int          `db:"token_count"`
	Embedding  Float64Array `db:"embedding"`
	Metadata   JSONB        `db:"metadata"`
	CreatedAt  time.Time    `db:"created_at"`
}

type AutomationExecution struct {
	ID         uuid.UUID  `db:"id"`
	TenantID   uuid.UUID  `db:"tenant_id"`
	CallID     *uuid.UUID `db:"call_id"`
	Action     string     `db:"action"`
	Intent     string     `db:"intent"`
	Status     string     `db:"status"`
	Params     JSONB      `db:"params"`
	Output     JSONB      `db:"output"`
	Error      *string    `db:"error"`
	DurationMS int64      `db:"duration_ms"`
	CreatedAt  time.Time  `db:"created_at"`
}
