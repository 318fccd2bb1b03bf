package mail

import "testing"

func TestNewReturnsLoggingDispatcherWhenDisabled(t *testing.T) {
	d := New(false, &SMTPConfig{Host: "smtp.example.com"})
	if _, ok := d.(LoggingDispatcher); !ok {
		t.Fatalf("expected LoggingDispatcher, got %T", d)
	}
}

func TestNewReturnsLoggingDispatcherWhenConfigMissing(t *testing.T) {
	d := New(true, nil)
	if _, ok := d.(LoggingDispatcher); !ok {
		t.Fatalf("expected LoggingDispatcher, got %T", d)
	}
}

func TestNewReturnsSMTPDispatcherWhenEnabled(t *testing.T) {
	d := New(true, &SMTPConfig{Host: "smtp.example.com", Port: 587})
	if _, ok := d.(*SMTPDispatcher); !ok {
		t.Fatalf("expected *SMTPDispatcher, got %T", d)
	}
}

func TestLoggingDispatcherNeverErrors(t *testing.T) {
	if err := (LoggingDispatcher{}).SendInvite("a@example.com", "deal-1", "http://x/d/deal-1/a/tok"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
