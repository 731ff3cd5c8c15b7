package mqtt

import (
	"testing"

	"github.com/MrWong99/mindscope/pkg/signal"
)

func TestDecodeBatch(t *testing.T) {
	t.Parallel()

	b, err := DecodeBatch([]byte(`{"seq":3,"sample_rate":500,"channels":[[1,2],[3,4]]}`), 250)
	if err != nil {
		t.Fatalf("DecodeBatch() error: %v", err)
	}
	if b.Seq != 3 {
		t.Errorf("Seq = %d, want 3", b.Seq)
	}
	if b.SampleRate != 500 {
		t.Errorf("SampleRate = %v, want 500", b.SampleRate)
	}
	if err := b.Validate(2); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestDecodeBatch_DefaultRate(t *testing.T) {
	t.Parallel()

	b, err := DecodeBatch([]byte(`{"channels":[[1],[2]]}`), 250)
	if err != nil {
		t.Fatalf("DecodeBatch() error: %v", err)
	}
	if b.SampleRate != 250 {
		t.Errorf("SampleRate = %v, want 250", b.SampleRate)
	}
}

func TestDecodeBatch_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := DecodeBatch([]byte(`{not json`), 250); err == nil {
		t.Fatal("DecodeBatch() expected error for invalid JSON")
	}
}

func TestDecodeProbabilities(t *testing.T) {
	t.Parallel()

	p, err := DecodeProbabilities([]byte(`{"probabilities":[0.9,0.1]}`))
	if err != nil {
		t.Fatalf("DecodeProbabilities() error: %v", err)
	}
	if len(p) != 2 || p[0] != 0.9 || p[1] != 0.1 {
		t.Errorf("DecodeProbabilities() = %v, want [0.9 0.1]", p)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	if d.cfg.ClientID != defaultClientID {
		t.Errorf("ClientID = %q, want %q", d.cfg.ClientID, defaultClientID)
	}
	if d.cfg.SamplesTopic != defaultSamplesTopic {
		t.Errorf("SamplesTopic = %q, want %q", d.cfg.SamplesTopic, defaultSamplesTopic)
	}
	if d.cfg.InferenceTopic != defaultInferenceTopic {
		t.Errorf("InferenceTopic = %q, want %q", d.cfg.InferenceTopic, defaultInferenceTopic)
	}
	if d.cfg.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", d.cfg.ConnectTimeout, defaultConnectTimeout)
	}
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()
	if got := BrokerURL(signal.Endpoint{Address: "10.0.0.2", Port: 1883}); got != "tcp://10.0.0.2:1883" {
		t.Errorf("BrokerURL() = %q", got)
	}
}
