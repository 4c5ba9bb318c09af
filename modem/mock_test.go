package modem_test

import (
	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/atcommand/modem"
)

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

// Connect expects the read timeout the client sets on a new transport.
func (b *MockSequenceBuilder) Connect() *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().SetReadTimeout(gomock.Any()).Return(nil),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Command("ATE0", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseOff() *MockSequenceBuilder {
	return b.Command("ATV0", "ATV0\r0\r")
}

// Command expects cmd to be written and answers it with response in a
// single read.
func (b *MockSequenceBuilder) Command(cmd, response string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd+"\r")).Return(len(cmd)+1, nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, response), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls are the calls made by a successful New.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).Connect().AT().Build()
}
