// Package client talks to managed IPCP daemons over their admin HTTP
// surface.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
)

// IPCPClient drives one IPCP daemon.
type IPCPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a client for the daemon listening on the given admin port.
func New(host string, port int, logger *zap.Logger) *IPCPClient {
	return &IPCPClient{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// errorBody is the failure envelope of the admin surface.
type errorBody struct {
	Result int32  `json:"result"`
	Reason string `json:"reason"`
}

func (c *IPCPClient) post(path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return rerr.Wrap(rerr.KindChannelClosed, err, "IPCP unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &eb) == nil && eb.Reason != "" {
			return &rerr.Error{Kind: rerr.KindFromCode(eb.Result), Reason: eb.Reason}
		}
		return fmt.Errorf("IPCP returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *IPCPClient) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return rerr.Wrap(rerr.KindChannelClosed, err, "IPCP unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("IPCP returned status %d: %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ping probes the daemon's health endpoint.
func (c *IPCPClient) Ping() error {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}

// AssignToDIF orders the daemon into a DIF.
func (c *IPCPClient) AssignToDIF(info dif.Information) error {
	return c.post("/assign", info, nil)
}

// EnrollToDIF orders an enrollment.
func (c *IPCPClient) EnrollToDIF(difName, supportingDIF, neighbor names.APNI) (dif.Information, []dif.Neighbor, error) {
	req := map[string]any{
		"difName":       difName,
		"supportingDif": supportingDIF,
		"neighbor":      neighbor,
	}
	var out struct {
		DIFInformation dif.Information `json:"difInformation"`
		Neighbors      []dif.Neighbor  `json:"neighbors"`
	}
	if err := c.post("/enroll", req, &out); err != nil {
		return dif.Information{}, nil, err
	}
	return out.DIFInformation, out.Neighbors, nil
}

// UpdateDIFConfig pushes a replacement DIF configuration.
func (c *IPCPClient) UpdateDIFConfig(cfg dif.Configuration) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.baseURL+"/dif-config", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerr.Wrap(rerr.KindChannelClosed, err, "IPCP unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var eb errorBody
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &eb) == nil && eb.Reason != "" {
			return &rerr.Error{Kind: rerr.KindFromCode(eb.Result), Reason: eb.Reason}
		}
		return fmt.Errorf("IPCP returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// RegisterApp registers an application on the daemon.
func (c *IPCPClient) RegisterApp(app names.APNI) error {
	return c.post("/apps/register", app, nil)
}

// UnregisterApp removes a registration.
func (c *IPCPClient) UnregisterApp(app names.APNI) error {
	return c.post("/apps/unregister", app, nil)
}

// AllocateFlow asks the daemon for a flow and returns the port-id.
func (c *IPCPClient) AllocateFlow(local, remote names.APNI, fs qos.FlowSpecification) (int32, error) {
	req := map[string]any{
		"local":    local,
		"remote":   remote,
		"flowSpec": fs,
	}
	var out struct {
		PortID int32 `json:"portId"`
	}
	if err := c.post("/flows", req, &out); err != nil {
		return -1, err
	}
	return out.PortID, nil
}

// DeallocateFlow tears a flow down.
func (c *IPCPClient) DeallocateFlow(portID int32) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/flows/%d", c.baseURL, portID), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerr.Wrap(rerr.KindChannelClosed, err, "IPCP unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("IPCP returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// UpdateRouting pushes a routing table.
func (c *IPCPClient) UpdateRouting(routing []dif.RoutingTableEntry) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(routing); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.baseURL+"/routing", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rerr.Wrap(rerr.KindChannelClosed, err, "IPCP unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("IPCP returned status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

// Status fetches the daemon's status document.
func (c *IPCPClient) Status() (map[string]any, error) {
	var out map[string]any
	if err := c.get("/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryRIB fetches the daemon's RIB dump under a prefix.
func (c *IPCPClient) QueryRIB(prefix string) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.get("/rib?prefix="+prefix, &out); err != nil {
		return nil, err
	}
	return out, nil
}
