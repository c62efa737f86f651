package client_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/atgw/transport"
)

type MockSequenceBuilder struct {
	transport *transport.MockTransport
	calls     []any
}

func NewMockSequence(tr *transport.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: tr,
		calls:     []any{},
	}
}

// Exchange expects cmd to be written and answers with resp.
func (b *MockSequenceBuilder) Exchange(cmd, resp string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(cmd+"\r")).Return(len(cmd)+1, nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT", "AT\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Exchange("ATE0", "ATE0\r\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

func initMockCalls(tr *transport.MockTransport) []any {
	return NewMockSequence(tr).AT().EchoOff().Build()
}
