// Package kafka is a connector of Kafka topics. Each partition of a topic
// is a fragment, read from its first offset up to the high watermark seen
// when the fragments were listed.
package kafka

import (
	"context"
	"encoding/binary"
	"io"
	"strings"
	"time"

	segmentio "github.com/segmentio/kafka-go"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/text"
	"github.com/featurebasedb/gateway/toml"
)

// Plugin names.
const (
	FragmenterName = "kafka.Fragmenter"
	AccessorName   = "kafka.Accessor"
)

const (
	BrokersProperty  = "kafka.brokers"
	DefaultBatchSize = 100
)

// Config is the server wide Kafka configuration.
type Config struct {
	Brokers     []string      `toml:"brokers"`
	DialTimeout toml.Duration `toml:"dial-timeout"`
}

// MessageReader reads the messages of one partition.
type MessageReader interface {
	FetchMessage(ctx context.Context) (segmentio.Message, error)
	io.Closer
}

// MessageWriter publishes messages to a topic.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...segmentio.Message) error
	io.Closer
}

// Cluster is what the plugins need of a Kafka cluster.
type Cluster interface {
	Partitions(ctx context.Context, topic string) ([]int, error)
	Offsets(ctx context.Context, topic string, partition int) (first, last int64, err error)
	NewReader(topic string, partition int, offset int64) MessageReader
	NewWriter(topic string) MessageWriter
}

// Connector resolves the cluster of a request.
type Connector struct {
	Config Config
	Logger logger.Logger

	// cluster returns the cluster of a broker list; tests replace it.
	cluster func(brokers []string) Cluster
}

// NewConnector returns a Connector using cfg.
func NewConnector(cfg Config, log logger.Logger) *Connector {
	if log == nil {
		log = logger.NopLogger
	}
	c := &Connector{Config: cfg, Logger: log}
	c.cluster = func(brokers []string) Cluster {
		return &brokerCluster{brokers: brokers, dialTimeout: time.Duration(cfg.DialTimeout)}
	}
	return c
}

// Cluster returns the cluster named by the kafka.brokers property of rc, or
// the configured brokers.
func (c *Connector) Cluster(rc *gateway.RequestContext) (Cluster, error) {
	brokers := c.Config.Brokers
	if v, ok := rc.AdditionalConfigProps[BrokersProperty]; ok {
		brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}
	if len(brokers) == 0 {
		return nil, gateway.NewErrConfiguration("no kafka brokers are configured for server '%s'", rc.ServerName)
	}
	return c.cluster(brokers), nil
}

// Register adds the Kafka plugins to f.
func Register(f *gateway.PluginFactory, c *Connector) {
	f.RegisterFragmenter(FragmenterName, func(rc *gateway.RequestContext) (gateway.Fragmenter, error) {
		cluster, err := c.Cluster(rc)
		if err != nil {
			return nil, err
		}
		return &Fragmenter{Cluster: cluster, Topic: rc.DataSource}, nil
	})
	f.RegisterAccessor(AccessorName, func(rc *gateway.RequestContext) (gateway.Accessor, error) {
		cluster, err := c.Cluster(rc)
		if err != nil {
			return nil, err
		}
		return NewAccessor(cluster, rc, c.Logger)
	})
	text.Register(f)
}

// Range is the fragment metadata of a partition: the offsets [First, Last)
// to read.
type Range struct {
	Partition   int
	First, Last int64
}

func (r Range) MarshalBinary() []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint32(b[:4], uint32(r.Partition))
	binary.BigEndian.PutUint64(b[4:12], uint64(r.First))
	binary.BigEndian.PutUint64(b[12:], uint64(r.Last))
	return b
}

func (r *Range) UnmarshalBinary(b []byte) error {
	if len(b) != 20 {
		return gateway.NewErrCodec("kafka fragment metadata has %d bytes, expected 20", len(b))
	}
	r.Partition = int(binary.BigEndian.Uint32(b[:4]))
	r.First = int64(binary.BigEndian.Uint64(b[4:12]))
	r.Last = int64(binary.BigEndian.Uint64(b[12:]))
	return nil
}

// Fragmenter returns one fragment per partition of Topic.
type Fragmenter struct {
	Cluster Cluster
	Topic   string
}

func (f *Fragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	partitions, err := f.Cluster.Partitions(ctx, f.Topic)
	if err != nil {
		return nil, errors.Wrapf(err, "listing partitions of topic %q", f.Topic)
	}
	if len(partitions) == 0 {
		return nil, gateway.NewErrConfiguration("topic %q does not exist", f.Topic)
	}
	fragments := make([]gateway.Fragment, 0, len(partitions))
	for _, p := range partitions {
		first, last, err := f.Cluster.Offsets(ctx, f.Topic, p)
		if err != nil {
			return nil, errors.Wrapf(err, "reading offsets of %s/%d", f.Topic, p)
		}
		fragments = append(fragments, gateway.Fragment{
			SourceName: f.Topic,
			Metadata:   Range{Partition: p, First: first, Last: last}.MarshalBinary(),
		})
	}
	return fragments, nil
}

// Accessor reads the messages of a partition range as text rows, and
// publishes rows as messages.
type Accessor struct {
	cluster   Cluster
	rc        *gateway.RequestContext
	logger    logger.Logger
	rng       *Range
	batchSize int

	reader MessageReader
	next   int64

	writer  MessageWriter
	pending []segmentio.Message
	written int
}

// NewAccessor returns the accessor for the fragment of rc.
func NewAccessor(cluster Cluster, rc *gateway.RequestContext, log logger.Logger) (*Accessor, error) {
	batch, err := rc.OptionInt("batch_size", DefaultBatchSize)
	if err != nil {
		return nil, err
	}
	if batch < 1 {
		return nil, gateway.NewErrParameterRange("BATCH_SIZE", batch, 1, 1<<31-1)
	}
	a := &Accessor{cluster: cluster, rc: rc, logger: log, batchSize: batch}
	if md := rc.FragmentMetadata(); md != nil {
		a.rng = &Range{}
		if err := a.rng.UnmarshalBinary(md); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Accessor) OpenForRead(ctx context.Context) error {
	if a.rng == nil {
		return gateway.NewErrConfiguration("reading topic %q requires a partition fragment", a.rc.DataSource)
	}
	a.next = a.rng.First
	if a.rng.First < a.rng.Last {
		a.reader = a.cluster.NewReader(a.rc.DataSource, a.rng.Partition, a.rng.First)
	}
	return nil
}

// ReadNext returns the next message value as a string keyed by the message
// offset.
func (a *Accessor) ReadNext(ctx context.Context) (gateway.OneRow, error) {
	if a.reader == nil || a.next >= a.rng.Last {
		return gateway.OneRow{}, io.EOF
	}
	msg, err := a.reader.FetchMessage(ctx)
	if err != nil {
		return gateway.OneRow{}, errors.Wrapf(err, "fetching message %d of %s/%d", a.next, a.rc.DataSource, a.rng.Partition)
	}
	if msg.Offset >= a.rng.Last {
		a.next = msg.Offset
		return gateway.OneRow{}, io.EOF
	}
	a.next = msg.Offset + 1
	return gateway.OneRow{Key: msg.Offset, Data: string(msg.Value)}, nil
}

func (a *Accessor) CloseForRead() error {
	if a.reader == nil {
		return nil
	}
	return a.reader.Close()
}

func (a *Accessor) OpenForWrite(ctx context.Context) error {
	a.writer = a.cluster.NewWriter(a.rc.DataSource)
	return nil
}

// WriteNext publishes rows in batches.
func (a *Accessor) WriteNext(ctx context.Context, row gateway.OneRow) error {
	s, ok := row.Data.(string)
	if !ok {
		return gateway.NewErrCodec("unexpected record of type '%T'", row.Data)
	}
	a.pending = append(a.pending, segmentio.Message{Value: []byte(strings.TrimSuffix(s, "\n"))})
	if len(a.pending) < a.batchSize {
		return nil
	}
	return a.flush(ctx)
}

func (a *Accessor) flush(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	if err := a.writer.WriteMessages(ctx, a.pending...); err != nil {
		return errors.Wrapf(err, "writing to topic %q", a.rc.DataSource)
	}
	a.written += len(a.pending)
	a.pending = a.pending[:0]
	return nil
}

func (a *Accessor) CloseForWrite() error {
	if a.writer == nil {
		return nil
	}
	err := a.flush(context.Background())
	if cerr := a.writer.Close(); err == nil {
		err = cerr
	}
	a.logger.Debugf("segment %d wrote %d messages to topic %s", a.rc.SegmentID, a.written, a.rc.DataSource)
	return err
}

// brokerCluster implements Cluster with kafka-go connections.
type brokerCluster struct {
	brokers     []string
	dialTimeout time.Duration
}

func (c *brokerCluster) dialer() *segmentio.Dialer {
	return &segmentio.Dialer{Timeout: c.dialTimeout}
}

func (c *brokerCluster) dial(ctx context.Context) (conn *segmentio.Conn, err error) {
	for _, b := range c.brokers {
		conn, err = c.dialer().DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
	}
	return nil, errors.Wrap(err, "connecting to kafka")
}

func (c *brokerCluster) Partitions(ctx context.Context, topic string) ([]int, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	partitions, err := conn.ReadPartitions(topic)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(partitions))
	for i, p := range partitions {
		ids[i] = p.ID
	}
	return ids, nil
}

func (c *brokerCluster) Offsets(ctx context.Context, topic string, partition int) (int64, int64, error) {
	var lastErr error
	for _, b := range c.brokers {
		conn, err := c.dialer().DialLeader(ctx, "tcp", b, topic, partition)
		if err != nil {
			lastErr = err
			continue
		}
		first, last, err := conn.ReadOffsets()
		conn.Close()
		return first, last, err
	}
	return 0, 0, lastErr
}

func (c *brokerCluster) NewReader(topic string, partition int, offset int64) MessageReader {
	r := segmentio.NewReader(segmentio.ReaderConfig{
		Brokers:   c.brokers,
		Topic:     topic,
		Partition: partition,
		Dialer:    c.dialer(),
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	r.SetOffset(offset)
	return r
}

func (c *brokerCluster) NewWriter(topic string) MessageWriter {
	return &segmentio.Writer{
		Addr:     segmentio.TCP(c.brokers...),
		Topic:    topic,
		Balancer: &segmentio.LeastBytes{},
	}
}
