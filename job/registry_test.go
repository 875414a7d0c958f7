package job_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

type emailPayload struct {
	To      string `json:"to" msgpack:"to"`
	Subject string `json:"subject" msgpack:"subject"`
}

// resizeImage is a struct target registered by type.
type resizeImage struct {
	Path  string `json:"path" msgpack:"path"`
	Width int    `json:"width" msgpack:"width"`
}

var resized []resizeImage

func (r *resizeImage) Run(_ context.Context) error {
	resized = append(resized, *r)
	return nil
}

func TestRegistry_DefinitionRoundTrip(t *testing.T) {
	for _, codec := range []job.Codec{job.JSONCodec{}, job.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			r := job.NewRegistry(job.WithCodec(codec))

			var got emailPayload
			def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
				got = p
				return nil
			})
			job.RegisterDefinition(r, def)

			data, tag, err := r.Encode(def.Call(emailPayload{To: "alice@example.com", Subject: "Hello"}))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if tag != "send-email" {
				t.Errorf("tag = %q, want %q", tag, "send-email")
			}

			target, err := r.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if err := target.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got.To != "alice@example.com" {
				t.Errorf("To = %q, want %q", got.To, "alice@example.com")
			}
			if got.Subject != "Hello" {
				t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
			}
		})
	}
}

func TestRegistry_TypeRoundTrip(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterType[*resizeImage](r, "resize-image")

	data, tag, err := r.Encode(&resizeImage{Path: "/tmp/a.png", Width: 640})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if tag != "resize-image" {
		t.Errorf("tag = %q, want %q", tag, "resize-image")
	}

	target, err := r.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	resized = nil
	if err := target.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(resized) != 1 || resized[0].Path != "/tmp/a.png" || resized[0].Width != 640 {
		t.Errorf("unexpected target state: %+v", resized)
	}
}

func TestRegistry_EncodeUnregistered(t *testing.T) {
	r := job.NewRegistry()

	_, _, err := r.Encode(&resizeImage{})
	if !errors.Is(err, backlog.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}

	def := job.NewDefinition("unregistered", func(_ context.Context, _ struct{}) error { return nil })
	_, _, err = r.Encode(def.Call(struct{}{}))
	if !errors.Is(err, backlog.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget for unregistered definition, got %v", err)
	}

	_, _, err = r.Encode(nil)
	if !errors.Is(err, backlog.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget for nil target, got %v", err)
	}
}

func TestRegistry_DecodeUnknownTag(t *testing.T) {
	producer := job.NewRegistry()
	job.RegisterType[*resizeImage](producer, "resize-image")
	data, _, err := producer.Encode(&resizeImage{Path: "x"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	consumer := job.NewRegistry()
	_, err = consumer.Decode(data)
	if !errors.Is(err, backlog.ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestRegistry_DecodeGarbage(t *testing.T) {
	r := job.NewRegistry()
	if _, err := r.Decode([]byte("not json")); err == nil {
		t.Fatal("expected error decoding garbage")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("job-c", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("job-a", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterType[*resizeImage](r, "job-b")

	names := r.Names()
	want := []string{"job-a", "job-b", "job-c"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d: %v", len(want), len(names), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("names[%d] = %q, want %q", i, names[i], name)
		}
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		if _, err := job.CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q): %v", name, err)
		}
	}
	if _, err := job.CodecByName("xml"); !errors.Is(err, backlog.ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec, got %v", err)
	}
}
