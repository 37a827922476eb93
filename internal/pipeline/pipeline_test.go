package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/dimensional"
	"github.com/JakeFAU/catalog-warehouse/internal/publisher/memory"
	"github.com/JakeFAU/catalog-warehouse/internal/transform"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

var testNS = warehouse.Namespace{Source: "shop", Env: warehouse.EnvTest}

type mockCrawler struct{ mock.Mock }

func (m *mockCrawler) RunSession(ctx context.Context) (crawler.SessionReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.SessionReport), args.Error(1)
}

type mockTransformer struct{ mock.Mock }

func (m *mockTransformer) Run(ctx context.Context) (transform.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(transform.Report), args.Error(1)
}

type mockBuilder struct{ mock.Mock }

func (m *mockBuilder) Run(ctx context.Context) (dimensional.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(dimensional.Report), args.Error(1)
}

func TestRunAllStagesAndPublish(t *testing.T) {
	t.Parallel()

	c, tr, b := &mockCrawler{}, &mockTransformer{}, &mockBuilder{}
	c.On("RunSession", mock.Anything).Return(crawler.SessionReport{TotalSaved: 40}, nil).Once()
	tr.On("Run", mock.Anything).Return(transform.Report{Rows: 40}, nil).Once()
	b.On("Run", mock.Anything).Return(dimensional.Report{Facts: 40, BrandsCreated: 1}, nil).Once()
	pub := memory.New()

	p, err := New(Config{Namespace: testNS, Topic: "runs"}, Stages{Crawler: c, Transformer: tr, Builder: b}, pub, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusOK, report.Status)
	require.Equal(t, 40, report.Crawl.TotalSaved)
	require.Equal(t, 40, report.Build.Facts)
	c.AssertExpectations(t)
	tr.AssertExpectations(t)
	b.AssertExpectations(t)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "runs", msgs[0].Topic)
	var published Report
	require.NoError(t, json.Unmarshal(msgs[0].Data, &published))
	require.Equal(t, "shop", published.Source)
	require.Equal(t, StatusOK, published.Status)
}

func TestCrawlFailureStillRunsDownstream(t *testing.T) {
	t.Parallel()

	c, tr, b := &mockCrawler{}, &mockTransformer{}, &mockBuilder{}
	crawlErr := fmt.Errorf("%w: browser gone", crawler.ErrTransportUnusable)
	c.On("RunSession", mock.Anything).Return(crawler.SessionReport{TotalSaved: 12, Aborted: true}, crawlErr)
	tr.On("Run", mock.Anything).Return(transform.Report{Rows: 12}, nil)
	b.On("Run", mock.Anything).Return(dimensional.Report{Facts: 12}, nil)

	p, err := New(Config{Namespace: testNS}, Stages{Crawler: c, Transformer: tr, Builder: b}, nil, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrTransportUnusable)
	require.Equal(t, StatusPartial, report.Status)
	require.NotEmpty(t, report.CrawlError)
	require.Equal(t, 12, report.Transform.Rows)
	require.Equal(t, 12, report.Build.Facts)
	b.AssertExpectations(t)
}

func TestTransformFailureSkipsBuild(t *testing.T) {
	t.Parallel()

	tr, b := &mockTransformer{}, &mockBuilder{}
	tr.On("Run", mock.Anything).Return(transform.Report{}, errors.New("disk full"))
	pub := memory.New()

	p, err := New(Config{Namespace: testNS, Topic: "runs"}, Stages{Transformer: tr, Builder: b}, pub, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, StatusFailed, report.Status)
	require.Nil(t, report.Crawl)
	require.Nil(t, report.Build)
	b.AssertNotCalled(t, "Run", mock.Anything)
	require.Len(t, pub.Messages(), 1)
}

func TestCanceledContextStopsBeforeTransform(t *testing.T) {
	t.Parallel()

	c, tr, b := &mockCrawler{}, &mockTransformer{}, &mockBuilder{}
	ctx, cancel := context.WithCancel(context.Background())
	c.On("RunSession", mock.Anything).Run(func(mock.Arguments) { cancel() }).
		Return(crawler.SessionReport{Aborted: true}, context.Canceled)

	p, err := New(Config{Namespace: testNS}, Stages{Crawler: c, Transformer: tr, Builder: b}, nil, nil)
	require.NoError(t, err)

	_, err = p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	tr.AssertNotCalled(t, "Run", mock.Anything)
	b.AssertNotCalled(t, "Run", mock.Anything)
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	tr, b := &mockTransformer{}, &mockBuilder{}
	tr.On("Run", mock.Anything).Return(transform.Report{}, nil)
	b.On("Run", mock.Anything).Return(dimensional.Report{}, nil)

	p, err := New(Config{Namespace: testNS, Topic: "runs"}, Stages{Transformer: tr, Builder: b}, failingPublisher{}, nil)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusOK, report.Status)
}

func TestRunRecordsStageSpans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c, tr, b := &mockCrawler{}, &mockTransformer{}, &mockBuilder{}
	c.On("RunSession", mock.Anything).Return(crawler.SessionReport{}, errors.New("listing down"))
	tr.On("Run", mock.Anything).Return(transform.Report{}, nil)
	b.On("Run", mock.Anything).Return(dimensional.Report{}, nil)

	p, err := New(Config{Namespace: testNS, Tracer: tp.Tracer("test")}, Stages{Crawler: c, Transformer: tr, Builder: b}, nil, nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.Error(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 4)
	names := make([]string, 0, len(ended))
	for _, s := range ended {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"pipeline.crawl", "pipeline.transform", "pipeline.build", "pipeline.run"}, names)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Equal(t, codes.Unset, ended[1].Status().Code)
	root := ended[3]
	for _, child := range ended[:3] {
		require.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Namespace: warehouse.Namespace{Source: "Bad"}}, Stages{Transformer: &mockTransformer{}, Builder: &mockBuilder{}}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Namespace: testNS}, Stages{Builder: &mockBuilder{}}, nil, nil)
	require.Error(t, err)
}

func TestReportAttributes(t *testing.T) {
	t.Parallel()

	attrs := Report{Source: "shop", Env: "test", Status: StatusPartial}.Attributes()
	require.Equal(t, map[string]string{"source": "shop", "env": "test", "status": "partial"}, attrs)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic not found")
}
