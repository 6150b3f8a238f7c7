package cloudhosting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/decom/internal/signer"
)

const (
	testAccessKeyID = "AKIDEXAMPLE"
	testSecret      = "secret-key"
)

const describeTwoInstances = `<?xml version="1.0" encoding="UTF-8"?>
<DescribeInstancesResponse xmlns="http://ec2.amazonaws.com/doc/2009-04-04/">
  <requestId>req-1</requestId>
  <reservationSet>
    <item>
      <reservationId>r-1</reservationId>
      <ownerId>owner</ownerId>
      <groupSet/>
      <instancesSet>
        <item>
          <instanceId>i-1</instanceId>
          <imageId>img-1</imageId>
          <instanceState><code>16</code><name>running</name></instanceState>
        </item>
        <item>
          <instanceId>i-2</instanceId>
          <imageId>img-1</imageId>
          <instanceState><code>80</code><name>stopped</name></instanceState>
        </item>
      </instancesSet>
    </item>
  </reservationSet>
</DescribeInstancesResponse>`

const describeEmpty = `<DescribeInstancesResponse><requestId>req-2</requestId><reservationSet/></DescribeInstancesResponse>`

const notFoundBody = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Errors><Error><Code>InvalidInstanceID.NotFound</Code><Message>The instance ID 'i-404' does not exist</Message></Error></Errors><RequestID>req-3</RequestID></Response>`

type recordedCall struct {
	action, status string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordAPICall(_ context.Context, action, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{action, status})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeRecorder) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rec := &fakeRecorder{}
	c, err := New(Config{
		Endpoint:        srv.URL + "/api/",
		AccessKeyID:     testAccessKeyID,
		SecretAccessKey: testSecret,
		HTTPClient:      srv.Client(),
		Recorder:        rec,
	})
	require.NoError(t, err)
	return c, rec
}

func queryParams(r *http.Request) map[string]string {
	out := map[string]string{}
	for k, v := range r.URL.Query() {
		out[k] = v[0]
	}
	return out
}

func TestNew_DefaultEndpoint(t *testing.T) {
	c, err := New(Config{AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "api.cloudhosting.biglobe.ne.jp", c.endpoint.Host)
	assert.Equal(t, "/api/", c.endpoint.Path)
}

func TestNew_RejectsEndpointWithoutHost(t *testing.T) {
	_, err := New(Config{Endpoint: "/api/"})
	require.Error(t, err)
}

func TestCall_SendsSignedParameters(t *testing.T) {
	var got map[string]string
	var host string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/", r.URL.Path)
		got = queryParams(r)
		host = r.Host
		_, _ = w.Write([]byte(describeEmpty))
	})

	_, err := c.Call(context.Background(), ActionStopInstances, "i-1")
	require.NoError(t, err)

	assert.Equal(t, "StopInstances", got["Action"])
	assert.Equal(t, testAccessKeyID, got["AccessKeyId"])
	assert.Equal(t, "i-1", got["InstanceId.1"])
	assert.Equal(t, "HmacSHA1", got["SignatureMethod"])
	assert.Equal(t, "2", got["SignatureVersion"])
	assert.Equal(t, "1.0", got["Version"])

	want := signer.New(host, "/api/", testSecret).Sign(got)
	assert.Equal(t, want, got["Signature"])
}

func TestCall_OmitsInstanceIDWhenEmpty(t *testing.T) {
	var got map[string]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = queryParams(r)
		_, _ = w.Write([]byte(describeEmpty))
	})

	_, err := c.Call(context.Background(), ActionDescribeInstances, "")
	require.NoError(t, err)
	assert.NotContains(t, got, "InstanceId.1")
}

func TestCall_RecordsMetrics(t *testing.T) {
	c, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Call(context.Background(), ActionTerminateInstances, "i-1")
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, recordedCall{"TerminateInstances", "503"}, rec.calls[0])
}

func TestDescribe_ParsesInstances(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(describeTwoInstances))
	})

	instances, err := c.Describe(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Instance{
		{ID: "i-1", State: StateRunning},
		{ID: "i-2", State: StateStopped},
	}, instances)
}

func TestDescribe_Empty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(describeEmpty))
	})

	instances, err := c.Describe(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestDescribe_ProviderError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(notFoundBody))
	})

	_, err := c.Describe(context.Background(), "i-404")
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeInstanceNotFound, pe.Code)
	assert.Equal(t, "i-404", pe.InstanceID)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.True(t, IsNotFound(err))
}

func TestDescribe_OtherProviderError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Response><Errors><Error><Code>AuthFailure</Code></Error></Errors></Response>`))
	})

	_, err := c.Describe(context.Background(), "")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "AuthFailure", pe.Code)
	assert.False(t, IsNotFound(err))
}

func TestDescribe_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not xml", "this is not xml"},
		{"wrong root", `<SomethingElse><reservationSet/></SomethingElse>`},
		{"missing reservation set", `<DescribeInstancesResponse><requestId>x</requestId></DescribeInstancesResponse>`},
		{"item without id", `<DescribeInstancesResponse><reservationSet><item><instancesSet><item><instanceState><name>running</name></instanceState></item></instancesSet></item></reservationSet></DescribeInstancesResponse>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Describe(context.Background(), "")
			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "got %v", err)
		})
	}
}

func TestDescribe_HTTPErrorWithoutDocument(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Describe(context.Background(), "")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
}

func TestDescribe_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c, err := New(Config{Endpoint: srv.URL + "/api/", HTTPClient: srv.Client()})
	require.NoError(t, err)
	srv.Close()

	_, err = c.Describe(context.Background(), "")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.Error(t, te.Unwrap())
}

func TestMutatingActions(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Client, context.Context, string) (bool, error)
		action string
	}{
		{"stop", (*Client).Stop, ActionStopInstances},
		{"terminate", (*Client).Terminate, ActionTerminateInstances},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var action string
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				action = r.URL.Query().Get("Action")
			})

			ok, err := tt.call(c, context.Background(), "i-1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.action, action)
		})
	}
}

func TestMutate_RejectedWithoutDocument(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	ok, err := c.Terminate(context.Background(), "i-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutate_RejectedWithProviderError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<Response><Errors><Error><Code>IncorrectInstanceState</Code></Error></Errors></Response>`))
	})

	ok, err := c.Stop(context.Background(), "i-1")
	assert.False(t, ok)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "IncorrectInstanceState", pe.Code)
	assert.Equal(t, "i-1", pe.InstanceID)
}
