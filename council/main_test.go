package council

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// tokenFunc adapts a function to Credentials.
type tokenFunc func() string

func (f tokenFunc) Token() string { return f() }

func staticToken(tok string) Credentials {
	return tokenFunc(func() string { return tok })
}
