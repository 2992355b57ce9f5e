package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/xmlgate/internal/ingest"
	"github.com/dharsanguruparan/xmlgate/internal/queue"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Process(_ context.Context, fileName, key string) (ingest.Result, error) {
	args := m.Called(fileName, key)
	return args.Get(0).(ingest.Result), args.Error(1)
}

func (m *mockPipeline) DeadLetter(_ context.Context, fileName, key string, cause error) error {
	return m.Called(fileName, key, cause).Error(0)
}

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Scan(context.Context) (ingest.ScanReport, error) {
	args := m.Called()
	return args.Get(0).(ingest.ScanReport), args.Error(1)
}

func processTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := queue.NewProcessTask(queue.ProcessPayload{Key: "k1", FileName: "a.xml"}, queue.Options{MaxRetry: 3})
	require.NoError(t, err)
	return task
}

func TestHandleProcessSuccess(t *testing.T) {
	pipeline := new(mockPipeline)
	pipeline.On("Process", "a.xml", "k1").Return(ingest.Result{Key: "k1"}, nil).Once()

	err := NewProcessor(pipeline, nil, nil).handleProcess(context.Background(), processTask(t))
	assert.NoError(t, err)
	pipeline.AssertExpectations(t)
}

func TestHandleProcessDeadLetteredSkipsRetry(t *testing.T) {
	pipeline := new(mockPipeline)
	cause := fmt.Errorf("%w: %w", ingest.ErrDeadLettered, errors.New("unsupported version"))
	pipeline.On("Process", "a.xml", "k1").Return(ingest.Result{}, cause).Once()

	err := NewProcessor(pipeline, nil, nil).handleProcess(context.Background(), processTask(t))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestHandleProcessInfrastructureRetries(t *testing.T) {
	pipeline := new(mockPipeline)
	pipeline.On("Process", "a.xml", "k1").Return(ingest.Result{}, errors.New("db down")).Once()

	err := NewProcessor(pipeline, nil, nil).handleProcess(context.Background(), processTask(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleProcessBadPayload(t *testing.T) {
	err := NewProcessor(new(mockPipeline), nil, nil).handleProcess(context.Background(), asynq.NewTask(queue.ProcessTask, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleScan(t *testing.T) {
	scanner := new(mockScanner)
	scanner.On("Scan").Return(ingest.ScanReport{Discovered: 1, Enqueued: 1}, nil).Once()
	scanner.On("Scan").Return(ingest.ScanReport{}, errors.New("no dir")).Once()
	p := NewProcessor(nil, scanner, nil)

	assert.NoError(t, p.handleScan(context.Background(), queue.NewScanTask(queue.Options{})))
	assert.Error(t, p.handleScan(context.Background(), queue.NewScanTask(queue.Options{})))
}

func TestFailureDeadLettersOnlyWhenExhausted(t *testing.T) {
	pipeline := new(mockPipeline)
	cause := errors.New("minio unavailable")
	pipeline.On("DeadLetter", "a.xml", "k1", cause).Return(nil).Once()
	p := NewProcessor(pipeline, nil, nil)
	ctx := context.Background()

	p.handleFailure(ctx, processTask(t), cause, 1, 3)
	pipeline.AssertNotCalled(t, "DeadLetter", "a.xml", "k1", cause)

	p.handleFailure(ctx, processTask(t), fmt.Errorf("bad: %w", asynq.SkipRetry), 3, 3)
	p.handleFailure(ctx, queue.NewScanTask(queue.Options{}), cause, 0, 0)

	p.handleFailure(ctx, processTask(t), cause, 3, 3)
	pipeline.AssertExpectations(t)
}
