package loadgen_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-redelivery/helpers/loadgen"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

// MockPayloadGenerator is a mock implementation of the PayloadGenerator interface.
type MockPayloadGenerator struct {
	mock.Mock
}

func (m *MockPayloadGenerator) GeneratePayload(_ *loadgen.Source) ([]byte, error) {
	args := m.Called()
	var payload []byte
	if p, ok := args.Get(0).([]byte); ok {
		payload = p
	}
	return payload, args.Error(1)
}

// MockClient is a mock implementation of the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Disconnect() {
	m.Called()
}

func (m *MockClient) Publish(ctx context.Context, key, payload []byte) (bool, error) {
	args := m.Called(ctx, key, payload)
	return args.Bool(0), args.Error(1)
}

// --- Tests ---

func TestLoadGenerator_Run(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("Successful run counts messages", func(t *testing.T) {
		mockClient := new(MockClient)
		mockGenerator := new(MockPayloadGenerator)

		sources := []*loadgen.Source{
			{ID: "source-1", MessageRate: 10, PayloadGenerator: mockGenerator},
		}
		duration := 250 * time.Millisecond

		mockGenerator.On("GeneratePayload").Return([]byte(`{"address":"a"}`), nil).Maybe()
		mockClient.On("Connect").Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()
		mockClient.On("Publish", mock.Anything, []byte("source-1"), []byte(`{"address":"a"}`)).Return(true, nil).Maybe()

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		count, err := lg.Run(context.Background(), duration)

		assert.NoError(t, err)
		// With a rate of 10Hz over 0.25s, we expect 2 messages.
		assert.Equal(t, 2, count)
		mockClient.AssertExpectations(t)
	})

	t.Run("Connect fails", func(t *testing.T) {
		mockClient := new(MockClient)
		connectErr := errors.New("connection failed")
		mockClient.On("Connect").Return(connectErr).Once()

		lg := loadgen.NewLoadGenerator(mockClient, []*loadgen.Source{}, logger)
		count, err := lg.Run(context.Background(), 1*time.Second)

		assert.Error(t, err)
		assert.Equal(t, 0, count)
		assert.Equal(t, connectErr, err)
		mockClient.AssertExpectations(t)
		mockClient.AssertNotCalled(t, "Disconnect")
	})

	t.Run("Generator errors are not published", func(t *testing.T) {
		mockClient := new(MockClient)
		mockGenerator := new(MockPayloadGenerator)
		sources := []*loadgen.Source{
			{ID: "source-1", MessageRate: 20, PayloadGenerator: mockGenerator},
		}

		mockGenerator.On("GeneratePayload").Return(nil, errors.New("no payload")).Maybe()
		mockClient.On("Connect").Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		count, err := lg.Run(context.Background(), 120*time.Millisecond)

		assert.NoError(t, err)
		assert.Equal(t, 0, count)
		mockClient.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Source with zero message rate", func(t *testing.T) {
		mockClient := new(MockClient)
		mockGenerator := new(MockPayloadGenerator)
		sources := []*loadgen.Source{
			{ID: "source-1", MessageRate: 0, PayloadGenerator: mockGenerator},
		}

		mockClient.On("Connect").Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		count, err := lg.Run(context.Background(), 100*time.Millisecond)

		assert.NoError(t, err)
		assert.Equal(t, 0, count)
		mockClient.AssertExpectations(t)
		mockClient.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Context cancellation stops sources", func(t *testing.T) {
		mockClient := new(MockClient)
		mockGenerator := new(MockPayloadGenerator)
		sources := []*loadgen.Source{
			{ID: "source-1", MessageRate: 100, PayloadGenerator: mockGenerator},
		}

		var once sync.Once
		published := make(chan struct{})

		mockGenerator.On("GeneratePayload").Return([]byte(`{}`), nil).Maybe()
		mockClient.On("Connect").Return(nil).Once()
		mockClient.On("Disconnect").Return().Once()
		mockClient.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Run(func(mock.Arguments) {
			once.Do(func() { close(published) })
		}).Maybe()

		lg := loadgen.NewLoadGenerator(mockClient, sources, logger)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-published
			cancel()
		}()

		start := time.Now()
		_, err := lg.Run(ctx, 5*time.Second)

		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
		mockClient.AssertExpectations(t)
	})
}
