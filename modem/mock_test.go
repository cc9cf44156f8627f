package modem_test

import (
	"i4.energy/across/polectl/at"
	"i4.energy/across/polectl/modem"
)

// MockSequenceBuilder collects ordered write expectations for a
// MockTransport, one per protocol step.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Raw expects p written as is.
func (b *MockSequenceBuilder) Raw(p string) *MockSequenceBuilder {
	b.calls = append(b.calls, b.transport.EXPECT().Write([]byte(p)).Return(len(p), nil))
	return b
}

// Command expects cmd followed by CR.
func (b *MockSequenceBuilder) Command(cmd string) *MockSequenceBuilder {
	return b.Raw(cmd + at.CR)
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command(at.CmdAt)
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Raw(at.CmdEchoOff).Raw(at.CR)
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Command(at.CmdSetTextMode).Command(at.CmdFullHeaders)
}

func (b *MockSequenceBuilder) DeleteAll() *MockSequenceBuilder {
	return b.Command(at.CmdDeleteAll)
}

// BringUp is the sequence for a modem that is already powered.
func (b *MockSequenceBuilder) BringUp() *MockSequenceBuilder {
	return b.AT().EchoOff().SMSTextMode().DeleteAll()
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
