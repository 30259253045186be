// Package jdbc is a connector of relational database tables. Tables are
// read in partitions, one fragment each, and written through batched
// inserts.
package jdbc

import (
	"context"
	"database/sql"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
)

// Plugin names.
const (
	FragmenterName       = "jdbc.Fragmenter"
	SingleFragmenterName = "jdbc.SingleFragmenter"
	AccessorName         = "jdbc.Accessor"
	ResolverName         = "jdbc.Resolver"
	HandlerName          = "jdbc.Handler"
)

// Properties, set by profile option mappings, and their request options.
const (
	BatchSizeProperty    = "jdbc.statement.batchSize"
	QueryTimeoutProperty = "jdbc.statement.queryTimeout"
	PoolSizeProperty     = "jdbc.pool.maxOpenConns"

	DefaultBatchSize = 100
	DefaultPoolSize  = 5
)

// ServerConfig is the connection of a named server.
type ServerConfig struct {
	Driver string `toml:"driver"`
	URL    string `toml:"url"`
}

// Connector holds the database connections shared by JDBC plugins.
type Connector struct {
	Servers map[string]ServerConfig
	Logger  logger.Logger

	mu  sync.Mutex
	dbs map[string]*sql.DB

	// open is sql.Open; tests replace it.
	open func(driver, dsn string) (*sql.DB, error)
}

// NewConnector returns a Connector for servers.
func NewConnector(servers map[string]ServerConfig, log logger.Logger) *Connector {
	if log == nil {
		log = logger.NopLogger
	}
	return &Connector{
		Servers: servers,
		Logger:  log,
		dbs:     make(map[string]*sql.DB),
		open:    sql.Open,
	}
}

// Register adds the JDBC plugins and protocol handler to f.
func Register(f *gateway.PluginFactory, c *Connector) {
	f.RegisterFragmenter(FragmenterName, func(rc *gateway.RequestContext) (gateway.Fragmenter, error) {
		return NewPartitionFragmenter(rc)
	})
	f.RegisterFragmenter(SingleFragmenterName, func(rc *gateway.RequestContext) (gateway.Fragmenter, error) {
		return &SingleFragmenter{DataSource: rc.DataSource}, nil
	})
	f.RegisterAccessor(AccessorName, func(rc *gateway.RequestContext) (gateway.Accessor, error) {
		return c.NewAccessor(rc)
	})
	f.RegisterResolver(ResolverName, func(rc *gateway.RequestContext) (gateway.Resolver, error) {
		return &Resolver{Columns: rc.Columns}, nil
	})
	f.RegisterHandler(HandlerName, Handler{})
}

// DB returns the connection pool of the server of rc. The JDBC_DRIVER and
// DB_URL options override the server configuration.
func (c *Connector) DB(rc *gateway.RequestContext) (*Dialect, *sql.DB, error) {
	cfg := c.Servers[rc.ServerName]
	if v := rc.Option("jdbc_driver"); v != "" {
		cfg.Driver = v
	}
	if v := rc.Option("db_url"); v != "" {
		cfg.URL = v
	}
	if cfg.Driver == "" {
		return nil, nil, gateway.NewErrConfiguration("JDBC_DRIVER is not set for server '%s'", rc.ServerName)
	}
	if cfg.URL == "" {
		return nil, nil, gateway.NewErrConfiguration("DB_URL is not set for server '%s'", rc.ServerName)
	}
	d, err := DialectOf(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	dsn := withLogin(cfg.URL, rc.Login, rc.Secret)

	poolSize, err := intSetting(rc, PoolSizeProperty, "pool_size", DefaultPoolSize)
	if err != nil {
		return nil, nil, err
	}

	key := d.Driver + "|" + dsn
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.dbs[key]; ok {
		return d, db, nil
	}
	db, err := c.open(d.Driver, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	c.dbs[key] = db
	c.Logger.Infof("opened %s connection pool of %d for server %s", d.Name, poolSize, rc.ServerName)
	return d, db, nil
}

// Close closes every connection pool.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for key, db := range c.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.dbs, key)
	}
	return first
}

// withLogin adds user and password to URL style connection strings.
func withLogin(dsn, user, password string) string {
	if user == "" || !strings.Contains(dsn, "://") {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// intSetting returns a property set through an option mapping, or the
// option itself.
func intSetting(rc *gateway.RequestContext, property, option string, def int) (int, error) {
	v, ok := rc.AdditionalConfigProps[property]
	if !ok {
		v, ok = rc.LookupOption(option)
	}
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, gateway.NewErrInvalidValue(strings.ToUpper(option), v, "an integer")
	}
	return n, nil
}

// Handler picks the partitioning fragmenter when the request has a
// PARTITION_BY option.
type Handler struct{}

func (Handler) FragmenterName(rc *gateway.RequestContext) string {
	if _, ok := rc.LookupOption("partition_by"); ok {
		return FragmenterName
	}
	return SingleFragmenterName
}

func (Handler) AccessorName(rc *gateway.RequestContext) string { return rc.Accessor }
func (Handler) ResolverName(rc *gateway.RequestContext) string { return rc.Resolver }

// SingleFragmenter reads a table as one fragment.
type SingleFragmenter struct {
	DataSource string
}

func (f *SingleFragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	return []gateway.Fragment{{SourceName: f.DataSource}}, nil
}

// PartitionFragmenter slices a table by the PARTITION_BY, RANGE and
// INTERVAL options.
type PartitionFragmenter struct {
	DataSource string
	Column     string
	Type       PartitionType
	Range      string
	Interval   string
}

// NewPartitionFragmenter reads the partitioning options of rc.
func NewPartitionFragmenter(rc *gateway.RequestContext) (*PartitionFragmenter, error) {
	by := rc.Option("partition_by")
	parts := strings.Split(by, ":")
	if len(parts) != 2 {
		return nil, gateway.NewErrConfiguration("The parameter 'PARTITION_BY' has incorrect format. The correct format is '<column_name>:{int|date|timestamp|enum}'")
	}
	t, err := ParsePartitionType(parts[1])
	if err != nil {
		return nil, err
	}
	return &PartitionFragmenter{
		DataSource: rc.DataSource,
		Column:     parts[0],
		Type:       t,
		Range:      rc.Option("range"),
		Interval:   rc.Option("interval"),
	}, nil
}

func (f *PartitionFragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	partitions, err := Partitions(f.Type, f.Column, f.Range, f.Interval)
	if err != nil {
		return nil, err
	}
	fragments := make([]gateway.Fragment, len(partitions))
	for i, p := range partitions {
		fragments[i] = gateway.Fragment{SourceName: f.DataSource, Metadata: MarshalPartition(p)}
	}
	return fragments, nil
}

// Accessor reads a partition of a table, or inserts rows into it.
type Accessor struct {
	rc        *gateway.RequestContext
	dialect   *Dialect
	db        *sql.DB
	quote     bool
	partition *Partition
	timeout   time.Duration
	batchSize int
	logger    logger.Logger

	cancel context.CancelFunc
	rows   *sql.Rows
	dest   []interface{}

	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	failed  bool
}

// NewAccessor returns the accessor for the fragment of rc.
func (c *Connector) NewAccessor(rc *gateway.RequestContext) (*Accessor, error) {
	d, db, err := c.DB(rc)
	if err != nil {
		return nil, err
	}
	quote, err := rc.OptionBool("quote_columns", false)
	if err != nil {
		return nil, err
	}
	timeout, err := intSetting(rc, QueryTimeoutProperty, "query_timeout", 0)
	if err != nil {
		return nil, err
	}
	batch, err := intSetting(rc, BatchSizeProperty, "batch_size", DefaultBatchSize)
	if err != nil {
		return nil, err
	}
	if batch < 1 {
		return nil, gateway.NewErrParameterRange("BATCH_SIZE", batch, 1, 1<<31-1)
	}

	a := &Accessor{
		rc:        rc,
		dialect:   d,
		db:        db,
		quote:     quote,
		timeout:   time.Duration(timeout) * time.Second,
		batchSize: batch,
		logger:    c.Logger,
	}
	if md := rc.FragmentMetadata(); len(md) > 0 {
		p, err := UnmarshalPartition(md)
		if err != nil {
			return nil, err
		}
		a.partition = &p
	}
	return a, nil
}

func (a *Accessor) columnNames() []string {
	names := make([]string, len(a.rc.Columns))
	for i, c := range a.rc.Columns {
		names[i] = c.Name
	}
	return names
}

// Query returns the SELECT statement of the accessor.
func (a *Accessor) Query() string {
	return a.dialect.SelectQuery(a.rc.DataSource, a.columnNames(), a.quote, a.partition)
}

func (a *Accessor) context(ctx context.Context) context.Context {
	if a.timeout > 0 {
		ctx, a.cancel = context.WithTimeout(ctx, a.timeout)
	} else {
		ctx, a.cancel = context.WithCancel(ctx)
	}
	return ctx
}

func (a *Accessor) OpenForRead(ctx context.Context) error {
	q := a.Query()
	a.logger.Debugf("segment %d executing query: %s", a.rc.SegmentID, q)
	rows, err := a.db.QueryContext(a.context(ctx), q)
	if err != nil {
		a.cancel()
		return errors.Wrap(err, "executing query")
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		a.cancel()
		return err
	}
	a.rows = rows
	a.dest = make([]interface{}, len(cols))
	return nil
}

// ReadNext returns the values of the next row as []interface{}.
func (a *Accessor) ReadNext(ctx context.Context) (gateway.OneRow, error) {
	if !a.rows.Next() {
		if err := a.rows.Err(); err != nil {
			return gateway.OneRow{}, err
		}
		return gateway.OneRow{}, io.EOF
	}
	for i := range a.dest {
		a.dest[i] = new(interface{})
	}
	if err := a.rows.Scan(a.dest...); err != nil {
		return gateway.OneRow{}, errors.Wrap(err, "scanning row")
	}
	values := make([]interface{}, len(a.dest))
	for i, d := range a.dest {
		values[i] = *(d.(*interface{}))
	}
	return gateway.OneRow{Data: values}, nil
}

func (a *Accessor) CloseForRead() error {
	if a.cancel != nil {
		defer a.cancel()
	}
	if a.rows == nil {
		return nil
	}
	return a.rows.Close()
}

func (a *Accessor) OpenForWrite(ctx context.Context) error {
	if len(a.rc.Columns) == 0 {
		return gateway.NewErrConfiguration("writing to %s requires columns", a.rc.DataSource)
	}
	return a.begin(a.context(ctx))
}

func (a *Accessor) begin(ctx context.Context) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	stmt, err := tx.PrepareContext(ctx, a.dialect.InsertQuery(a.rc.DataSource, a.columnNames(), a.quote))
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "preparing insert")
	}
	a.tx, a.stmt, a.pending = tx, stmt, 0
	return nil
}

// WriteNext inserts a row given as []interface{}. Rows are committed every
// batch size rows.
func (a *Accessor) WriteNext(ctx context.Context, row gateway.OneRow) error {
	args, ok := row.Data.([]interface{})
	if !ok {
		a.failed = true
		return gateway.NewErrCodec("unexpected record of type '%T'", row.Data)
	}
	if _, err := a.stmt.ExecContext(ctx, args...); err != nil {
		a.failed = true
		return errors.Wrap(err, "inserting row")
	}
	a.pending++
	if a.pending < a.batchSize {
		return nil
	}
	if err := a.commit(); err != nil {
		a.failed = true
		return err
	}
	return a.begin(ctx)
}

func (a *Accessor) commit() error {
	a.stmt.Close()
	err := a.tx.Commit()
	a.tx, a.stmt = nil, nil
	return errors.Wrap(err, "committing batch")
}

// CloseForWrite commits the last batch, or rolls it back if a write
// failed.
func (a *Accessor) CloseForWrite() error {
	if a.cancel != nil {
		defer a.cancel()
	}
	if a.tx == nil {
		return nil
	}
	if a.failed {
		a.stmt.Close()
		err := a.tx.Rollback()
		a.tx, a.stmt = nil, nil
		return err
	}
	return a.commit()
}
