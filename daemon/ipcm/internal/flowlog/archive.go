package flowlog

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/metrics"
)

// Event is one archived flow-lifecycle record.
type Event struct {
	At        time.Time
	IPCPID    uint16
	DIFName   string
	LocalApp  string
	RemoteApp string
	PortID    int32
	// Operation is "allocate" or "deallocate".
	Operation string
	Result    int32
	Reason    string
}

const schema = `
CREATE TABLE IF NOT EXISTS flow_events (
	at         DateTime64(3),
	ipcp_id    UInt16,
	dif_name   String,
	local_app  String,
	remote_app String,
	port_id    Int32,
	operation  LowCardinality(String),
	result     Int32,
	reason     String
) ENGINE = MergeTree()
ORDER BY (at, ipcp_id)
`

// Archive writes flow events to ClickHouse.
type Archive struct {
	client *Client
	logger *zap.Logger
}

// NewArchive creates the table if needed and returns the archive.
func NewArchive(ctx context.Context, client *Client, logger *zap.Logger) (*Archive, error) {
	if err := client.Exec(ctx, schema); err != nil {
		return nil, err
	}
	return &Archive{client: client, logger: logger}, nil
}

// Record writes one event. Failures are logged and counted, never
// propagated: the archive must not affect control-plane outcomes.
func (a *Archive) Record(ctx context.Context, e Event) {
	if a == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	err := a.client.Exec(ctx, `
		INSERT INTO flow_events (
			at, ipcp_id, dif_name, local_app, remote_app,
			port_id, operation, result, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At, e.IPCPID, e.DIFName, e.LocalApp, e.RemoteApp,
		e.PortID, e.Operation, e.Result, e.Reason,
	)
	if err != nil {
		metrics.RecordFlowEventArchived("error")
		a.logger.Warn("Flow event not archived", zap.Error(err))
		return
	}
	metrics.RecordFlowEventArchived("ok")
}
