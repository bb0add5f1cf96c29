package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParamType is the type tag of a run parameter value
type ParamType string

const (
	ParamString    ParamType = "string"
	ParamNumber    ParamType = "number"
	ParamTimestamp ParamType = "timestamp"
)

// Parameter keys injected by every launch
const (
	ParamStartTime = "startTime"
	ParamJobName   = "jobName"
	ParamRunID     = "runId"
)

// runIdentityNamespace scopes name-based run identities to this system
var runIdentityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:vat-batch:run-identity"))

// Param is a single typed run parameter
type Param struct {
	Type   ParamType
	String string
	Number int64
	Time   time.Time
}

// StringParam builds a string parameter
func StringParam(v string) Param { return Param{Type: ParamString, String: v} }

// NumberParam builds a number parameter
func NumberParam(v int64) Param { return Param{Type: ParamNumber, Number: v} }

// TimestampParam builds a timestamp parameter truncated to milliseconds
func TimestampParam(v time.Time) Param {
	return Param{Type: ParamTimestamp, Time: v.UTC().Truncate(time.Millisecond)}
}

// Value returns the parameter as a plain Go value
func (p Param) Value() any {
	switch p.Type {
	case ParamNumber:
		return p.Number
	case ParamTimestamp:
		return p.Time
	default:
		return p.String
	}
}

func (p Param) canonical() string {
	switch p.Type {
	case ParamNumber:
		return strconv.FormatInt(p.Number, 10)
	case ParamTimestamp:
		return strconv.FormatInt(p.Time.UnixMilli(), 10)
	default:
		return p.String
	}
}

type paramJSON struct {
	Type  ParamType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the parameter as {"type": ..., "value": ...}
func (p Param) MarshalJSON() ([]byte, error) {
	var value any
	switch p.Type {
	case ParamNumber:
		value = p.Number
	case ParamTimestamp:
		value = p.Time.UTC().Format(time.RFC3339Nano)
	case ParamString:
		value = p.String
	default:
		return nil, fmt.Errorf("unknown parameter type %q", p.Type)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(paramJSON{Type: p.Type, Value: raw})
}

// UnmarshalJSON decodes the {"type": ..., "value": ...} form
func (p *Param) UnmarshalJSON(data []byte) error {
	var raw paramJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Param{Type: raw.Type}
	switch raw.Type {
	case ParamNumber:
		if err := json.Unmarshal(raw.Value, &out.Number); err != nil {
			return fmt.Errorf("number parameter: %w", err)
		}
	case ParamTimestamp:
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			return fmt.Errorf("timestamp parameter: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp parameter: %w", err)
		}
		out.Time = t.UTC()
	case ParamString:
		if err := json.Unmarshal(raw.Value, &out.String); err != nil {
			return fmt.Errorf("string parameter: %w", err)
		}
	default:
		return fmt.Errorf("unknown parameter type %q", raw.Type)
	}
	*p = out
	return nil
}

// RunParameters maps parameter keys to typed values supplied at launch time
type RunParameters map[string]Param

// NewRunParameters returns an empty parameter set
func NewRunParameters() RunParameters {
	return RunParameters{}
}

// AddString sets a string parameter and returns the receiver for chaining
func (rp RunParameters) AddString(key, value string) RunParameters {
	rp[key] = StringParam(value)
	return rp
}

// AddNumber sets a number parameter and returns the receiver for chaining
func (rp RunParameters) AddNumber(key string, value int64) RunParameters {
	rp[key] = NumberParam(value)
	return rp
}

// AddTimestamp sets a timestamp parameter and returns the receiver for chaining
func (rp RunParameters) AddTimestamp(key string, value time.Time) RunParameters {
	rp[key] = TimestampParam(value)
	return rp
}

// Keys returns parameter keys in sorted order
func (rp RunParameters) Keys() []string {
	keys := make([]string, 0, len(rp))
	for k := range rp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Canonical returns a stable encoding of the parameter set, independent of map order
func (rp RunParameters) Canonical() string {
	var b strings.Builder
	for _, k := range rp.Keys() {
		p := rp[k]
		fmt.Fprintf(&b, "%s=%s:%s;", k, p.Type, p.canonical())
	}
	return b.String()
}

// Values flattens the parameters into plain Go values, as exposed by the monitoring API
func (rp RunParameters) Values() map[string]any {
	out := make(map[string]any, len(rp))
	for k, p := range rp {
		out[k] = p.Value()
	}
	return out
}

// RunIdentity distinguishes one execution of a job from another
type RunIdentity string

// Identity derives the deterministic run identity of (jobName, rp)
func (rp RunParameters) Identity(jobName string) RunIdentity {
	id := uuid.NewSHA1(runIdentityNamespace, []byte(jobName+"\n"+rp.Canonical()))
	return RunIdentity(id.String())
}
