package arrow_client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-bmm/internal/logger"
	"github.com/23skdu/longbow-bmm/internal/results"
)

// DefaultPort is the Flight data port used when none is given.
const DefaultPort = 3000

var ErrNotConnected = errors.New("client not connected, call Connect() first")

// Publisher ships a finished result table somewhere.
type Publisher interface {
	Connect(ctx context.Context) error
	PutTable(ctx context.Context, name string, table *results.Table) error
	Close() error
}

// FlightClient publishes result tables to an Arrow Flight endpoint with DoPut.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
	mem     memory.Allocator
}

// NewFlightClient creates a client for host:port. Nothing is dialed until Connect.
func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = DefaultPort
	}
	return NewFlightClientAddr(fmt.Sprintf("%s:%d", host, port))
}

// NewFlightClientAddr creates a client for a host:port address.
func NewFlightClientAddr(addr string) *FlightClient {
	return &FlightClient{
		addr:    addr,
		timeout: 30 * time.Second,
		mem:     memory.DefaultAllocator,
	}
}

func (fc *FlightClient) Addr() string { return fc.addr }

// Connect establishes the gRPC connection to the Flight server.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

// Close disconnects from the Flight server.
func (fc *FlightClient) Close() error {
	if fc.client == nil {
		return nil
	}
	err := fc.client.Close()
	fc.client = nil
	return err
}

// PutTable streams table as a single record batch under the path descriptor
// name and waits for the server to acknowledge the upload.
func (fc *FlightClient) PutTable(ctx context.Context, name string, table *results.Table) error {
	if fc.client == nil {
		return ErrNotConnected
	}

	if fc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fc.timeout)
		defer cancel()
	}

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	rec := table.Arrow(fc.mem)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(fc.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{name},
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}

	// drain acknowledgements until the server ends the call
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("DoPut failed: %w", err)
		}
	}

	logger.Log.Info("published results", "addr", fc.addr, "path", name, "rows", table.Len())
	return nil
}

// Publish connects p, uploads table under name and closes the connection.
func Publish(ctx context.Context, p Publisher, name string, table *results.Table) error {
	if err := p.Connect(ctx); err != nil {
		return err
	}
	putErr := p.PutTable(ctx, name, table)
	closeErr := p.Close()
	if putErr != nil {
		return putErr
	}
	return closeErr
}
