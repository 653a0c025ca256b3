package rpc

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/log"
)

// Status classifies one node's outcome from a Client call, per
//  {ok, payload} / {failed, message} / {offline} triple.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusOffline Status = "offline"
)

// Result is one node's outcome from a fan-out call.
type Result struct {
	Status  Status
	Payload json.RawMessage
	Message string
}

// Target is one node this Client can reach.
type Target struct {
	NodeID  string
	Addr    string // host:port
	Offline bool
}

// Client is the process-wide RPC client a Master uses to reach nodes.
// It is stateless per call: no retry, no session.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient builds a Client presenting clientCert and trusting caCert,
// the mTLS pairing issued by pkg/security.CertAuthority.
func NewClient(clientCert tls.Certificate, caCert *x509.Certificate, timeout time.Duration) *Client {
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{clientCert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS13,
		},
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		timeout:    timeout,
	}
}

// Call invokes procedure on one target with args, returning its Result.
// An offline target short-circuits before any network call is made.
func (c *Client) Call(target Target, procedure string, args []interface{}) Result {
	if target.Offline {
		return Result{Status: StatusOffline}
	}

	body, err := marshalArgs(args)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}
	}

	env, err := encodeEnvelope(body)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}
	}
	envBody, err := json.Marshal(env)
	if err != nil {
		return Result{Status: StatusFailed, Message: fmt.Sprintf("marshal envelope: %v", err)}
	}

	url := fmt.Sprintf("https://%s/%s", target.Addr, procedure)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(envBody))
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Status: StatusFailed, Message: fmt.Sprintf("non-200 response: %d", resp.StatusCode)}
	}

	var pair [2]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return Result{Status: StatusFailed, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	var ok bool
	if err := json.Unmarshal(pair[0], &ok); err != nil {
		return Result{Status: StatusFailed, Message: fmt.Sprintf("malformed success flag: %v", err)}
	}
	if !ok {
		var msg string
		_ = json.Unmarshal(pair[1], &msg)
		return Result{Status: StatusFailed, Message: msg}
	}
	return Result{Status: StatusOK, Payload: pair[1]}
}

// CallMulti fans Call out across targets in parallel, returning one
// Result per node ID.
func (c *Client) CallMulti(targets []Target, procedure string, args []interface{}) map[string]Result {
	results := make(map[string]Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			res := c.Call(t, procedure, args)
			mu.Lock()
			results[t.NodeID] = res
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	log.WithComponent("rpc.client").Debug().
		Str("procedure", procedure).
		Int("targets", len(targets)).
		Msg("rpc fan-out complete")

	return results
}
