package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/botoralo/botworker/internal/botworker/errkind"
)

// botRequest is the body shared by every bot-scoped route. Deploy uses the
// remaining fields.
type botRequest struct {
	UserID     string   `json:"userId"`
	BotID      string   `json:"botoraloBotId"`
	Name       string   `json:"name"`
	MemoryMB   flexInt  `json:"memory_mb"`
	AutoStart  flexBool `json:"auto_start"`
	Code       string   `json:"code"`
	uploaded   []byte
	hasUpload  bool
	rawPresent map[string]bool
}

// require fails with BadRequest listing every missing field.
func (b *botRequest) require(fields ...string) error {
	var missing []string
	for _, f := range fields {
		if !b.rawPresent[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return errkind.New(errkind.BadRequest, "Missing fields: [%s]", strings.Join(missing, ", "))
	}
	return nil
}

// code returns the uploaded file, falling back to the inline code field.
func (b *botRequest) code() []byte {
	if b.hasUpload {
		return b.uploaded
	}
	return []byte(b.Code)
}

// decodeBotRequest reads a JSON body, or a multipart form whose "meta"
// field holds the JSON and whose "code" file holds the source.
func decodeBotRequest(r *http.Request, maxBytes int64) (*botRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return decodeMultipart(r, maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, errkind.Wrap(errkind.BadRequest, err, "Invalid JSON body")
	}
	if int64(len(data)) > maxBytes {
		return nil, errkind.New(errkind.BadRequest, "request body too large")
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (*botRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errkind.Wrap(errkind.BadRequest, err, "Invalid JSON body")
	}
	req := &botRequest{rawPresent: make(map[string]bool, len(raw))}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, errkind.Wrap(errkind.BadRequest, err, "Invalid JSON body")
	}
	for k, v := range raw {
		if string(v) != "null" {
			req.rawPresent[k] = true
		}
	}
	return req, nil
}

func decodeMultipart(r *http.Request, maxBytes int64) (*botRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, errkind.New(errkind.BadRequest, "request body too large")
		}
		return nil, errkind.Wrap(errkind.BadRequest, err, "Invalid multipart body")
	}

	var req *botRequest
	if meta := r.FormValue("meta"); meta != "" {
		var err error
		if req, err = decodeJSON([]byte(meta)); err != nil {
			return nil, err
		}
	} else {
		req = &botRequest{rawPresent: map[string]bool{}}
		form := map[string]*string{"userId": &req.UserID, "botoraloBotId": &req.BotID, "name": &req.Name, "code": &req.Code}
		for key, dst := range form {
			if v := r.FormValue(key); v != "" {
				*dst = v
				req.rawPresent[key] = true
			}
		}
		if v := r.FormValue("memory_mb"); v != "" {
			n, _ := strconv.Atoi(v)
			req.MemoryMB = flexInt(n)
		}
		if v := r.FormValue("auto_start"); v != "" {
			b, _ := strconv.ParseBool(v)
			req.AutoStart = flexBool(b)
		}
	}

	file, _, err := r.FormFile("code")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return nil, errkind.Wrap(errkind.BadRequest, err, "Invalid code upload")
	default:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, errkind.Wrap(errkind.BadRequest, err, "Invalid code upload")
		}
		req.uploaded, req.hasUpload = data, true
	}
	return req, nil
}

// flexInt accepts a JSON number or a numeric string. Anything unparsable
// reads as zero, which deploy treats as "use the default".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			*f = flexInt(v)
			return nil
		}
		if v, err := n.Float64(); err == nil {
			*f = flexInt(int(v))
			return nil
		}
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, _ := strconv.Atoi(strings.TrimSpace(s))
		*f = flexInt(v)
		return nil
	}
	*f = 0
	return nil
}

// flexBool accepts a JSON boolean, a boolean string or a number.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("auto_start: %w", err)
	}
	switch t := v.(type) {
	case bool:
		*f = flexBool(t)
	case float64:
		*f = t != 0
	case string:
		p, _ := strconv.ParseBool(t)
		*f = flexBool(p)
	default:
		*f = false
	}
	return nil
}
