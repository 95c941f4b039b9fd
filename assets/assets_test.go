package assets

import (
	"testing"

	"go.yaml.in/yaml/v3"

	"autodaily/internal/task"
)

func TestDefaultConfDecodes(t *testing.T) {
	t.Parallel()
	var p task.Properties
	if err := yaml.Unmarshal(DefaultConf, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Version < 1 || len(p.Groups) == 0 {
		t.Fatalf("properties = %+v", p)
	}
	for _, g := range p.Groups {
		if g.ReqType() == "" || len(g.Tasks) == 0 {
			t.Fatalf("group %q is incomplete", g.Type)
		}
	}
}
