package mqtt

import "testing"

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"status", StatusTopic("proc-1"), "dspcore/status/proc-1"},
		{"param", ParamTopic("proc-1", "OutputGain_2"), "dspcore/param/proc-1/OutputGain_2"},
		{"scene", SceneTopic("proc-1"), "dspcore/scene/proc-1"},
		{"clip", ClipTopic("proc-1"), "dspcore/clip/proc-1"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s topic = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
