package confstore

import (
	"errors"
	"regexp"
	"strconv"

	"go.yaml.in/yaml/v3"

	"autodaily/internal/task"
)

var (
	minAppVersionRe = regexp.MustCompile(`(?m)^minAppVersion:\s+(\d+)`)
	versionRe       = regexp.MustCompile(`(?m)^version:\s+(\d+)`)
)

// header holds the version lines read from decrypted text before the body
// is parsed, so an unsupported document is rejected by the gate rather than
// by the parser.
type header struct {
	Version       int
	MinAppVersion int
}

func readHeader(text string) (header, error) {
	var h header
	m := versionRe.FindStringSubmatch(text)
	if m == nil {
		return h, errors.New("missing version line")
	}
	h.Version, _ = strconv.Atoi(m[1])
	if m := minAppVersionRe.FindStringSubmatch(text); m != nil {
		h.MinAppVersion, _ = strconv.Atoi(m[1])
	}
	return h, nil
}

// decoded is a blob that passed decryption, the version gate and parsing.
type decoded struct {
	text  string
	props *task.Properties
}

func (s *Store) decode(blob []byte, source string) (*decoded, error) {
	text, err := s.dec.Decrypt(blob)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	h, err := readHeader(text)
	if err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	if h.MinAppVersion > s.moduleVersion {
		return nil, &VersionGateError{ConfVersion: h.Version, Required: h.MinAppVersion, Have: s.moduleVersion}
	}
	var p task.Properties
	if err := yaml.Unmarshal([]byte(text), &p); err != nil {
		return nil, &DecodeError{Source: source, Err: err}
	}
	return &decoded{text: text, props: &p}, nil
}
