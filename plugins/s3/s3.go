// Package s3 is a connector of text objects in S3 compatible object
// stores. Objects are split into byte ranges like files of the file
// connector.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"golang.org/x/sync/errgroup"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/file"
	"github.com/featurebasedb/gateway/plugins/text"
)

// Plugin names.
const (
	FragmenterName   = "s3.Fragmenter"
	LineAccessorName = "s3.LineAccessor"
)

// Properties set through the option mappings of the s3 profiles.
const (
	AccessKeyProperty = "s3.access-key"
	SecretKeyProperty = "s3.secret-key"
	EndpointProperty  = "s3.endpoint"
	RegionProperty    = "s3.region"
)

// Config is the server wide S3 configuration. Requests may override each
// field through the profile option mappings.
type Config struct {
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	ForcePathStyle bool   `toml:"force-path-style"`
	AccessKey      string `toml:"access-key"`
	SecretKey      string `toml:"secret-key"`
}

// Connector creates S3 clients for requests. Clients are shared between
// requests with the same settings.
type Connector struct {
	Config Config
	Logger logger.Logger

	mu      sync.Mutex
	clients map[Config]s3iface.S3API

	// newClient creates the client of a configuration; tests replace it.
	newClient func(cfg Config) (s3iface.S3API, error)
}

// NewConnector returns a Connector using cfg.
func NewConnector(cfg Config, log logger.Logger) *Connector {
	if log == nil {
		log = logger.NopLogger
	}
	return &Connector{
		Config:    cfg,
		Logger:    log,
		clients:   make(map[Config]s3iface.S3API),
		newClient: newClient,
	}
}

func newClient(cfg Config) (s3iface.S3API, error) {
	config := &aws.Config{}
	if cfg.Region != "" {
		config.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		config.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		config.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKey != "" {
		config.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, errors.Wrap(err, "creating S3 session")
	}
	return s3.New(sess), nil
}

// Client returns the client for the settings of rc.
func (c *Connector) Client(rc *gateway.RequestContext) (s3iface.S3API, error) {
	cfg := c.Config
	props := rc.AdditionalConfigProps
	if v, ok := props[RegionProperty]; ok {
		cfg.Region = v
	}
	if v, ok := props[EndpointProperty]; ok {
		cfg.Endpoint = v
		cfg.ForcePathStyle = true
	}
	if v, ok := props[AccessKeyProperty]; ok {
		cfg.AccessKey = v
		cfg.SecretKey = props[SecretKeyProperty]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[cfg]; ok {
		return client, nil
	}
	client, err := c.newClient(cfg)
	if err != nil {
		return nil, err
	}
	c.clients[cfg] = client
	return client, nil
}

// Renew drops cached clients so the next request loads fresh credentials.
func (c *Connector) Renew(rc *gateway.RequestContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[Config]s3iface.S3API)
	c.Logger.Infof("dropped S3 clients to renew credentials of user %s", rc.User)
	return nil
}

// Register adds the S3 plugins to f.
func Register(f *gateway.PluginFactory, c *Connector) {
	f.RegisterFragmenter(FragmenterName, func(rc *gateway.RequestContext) (gateway.Fragmenter, error) {
		size, err := file.ChunkSize(rc)
		if err != nil {
			return nil, err
		}
		client, err := c.Client(rc)
		if err != nil {
			return nil, err
		}
		return &Fragmenter{Client: client, Path: rc.DataSource, ChunkSize: size}, nil
	})
	f.RegisterAccessor(LineAccessorName, func(rc *gateway.RequestContext) (gateway.Accessor, error) {
		client, err := c.Client(rc)
		if err != nil {
			return nil, err
		}
		return NewLineAccessor(client, rc)
	})
	text.Register(f)
}

// ParsePath splits "bucket/key/prefix", optionally with an s3:// scheme,
// into bucket and key.
func ParsePath(p string) (bucket, key string, err error) {
	p = strings.TrimPrefix(p, "s3://")
	p = strings.TrimPrefix(p, "s3a://")
	p = strings.TrimLeft(p, "/")
	i := strings.IndexByte(p, '/')
	if i < 0 {
		bucket = p
	} else {
		bucket, key = p[:i], p[i+1:]
	}
	if bucket == "" {
		return "", "", gateway.NewErrInvalidValue("RESOURCE", p, "a path of the form <bucket>/<key>")
	}
	return bucket, key, nil
}

// awsError turns authentication failures into errors the failure handler
// retries.
func awsError(err error, msg string) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "ExpiredToken", "ExpiredTokenException", "RequestExpired", "InvalidToken":
			return gateway.NewErrAuthExpired(err)
		}
	}
	return errors.Wrap(err, msg)
}

// Fragmenter splits the objects below the comma separated prefixes of Path
// into chunks. Prefixes are listed concurrently.
type Fragmenter struct {
	Client    s3iface.S3API
	Path      string
	ChunkSize int64
}

type object struct {
	name string
	size int64
}

func (f *Fragmenter) GetFragments(ctx context.Context) ([]gateway.Fragment, error) {
	paths := strings.Split(f.Path, ",")
	listings := make([][]object, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, strings.TrimSpace(p)
		g.Go(func() (err error) {
			listings[i], err = f.list(ctx, p)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fragments []gateway.Fragment
	for _, objects := range listings {
		for _, o := range objects {
			fragments = append(fragments, file.Split(o.name, o.size, f.ChunkSize)...)
		}
	}
	return fragments, nil
}

func (f *Fragmenter) list(ctx context.Context, p string) ([]object, error) {
	bucket, prefix, err := ParsePath(p)
	if err != nil {
		return nil, err
	}
	var objects []object
	err = f.Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(out *s3.ListObjectsV2Output, last bool) bool {
		for _, o := range out.Contents {
			key := aws.StringValue(o.Key)
			base := path.Base(key)
			if strings.HasSuffix(key, "/") || strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") {
				continue
			}
			objects = append(objects, object{name: bucket + "/" + key, size: aws.Int64Value(o.Size)})
		}
		return true
	})
	if err != nil {
		return nil, awsError(err, fmt.Sprintf("listing s3://%s/%s", bucket, prefix))
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].name < objects[j].name })
	return objects, nil
}

// LineAccessor reads the lines starting within a chunk of an object, and
// writes lines to a new object below the prefix named by the request.
type LineAccessor struct {
	client s3iface.S3API
	rc     *gateway.RequestContext
	chunk  file.Chunk
	lines  *file.LineRange

	buf *bytes.Buffer
}

// NewLineAccessor returns the accessor for the fragment of rc.
func NewLineAccessor(client s3iface.S3API, rc *gateway.RequestContext) (*LineAccessor, error) {
	a := &LineAccessor{client: client, rc: rc, chunk: file.Chunk{Length: file.UnboundedLength}}
	if md := rc.FragmentMetadata(); md != nil {
		if err := a.chunk.UnmarshalBinary(md); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *LineAccessor) OpenForRead(ctx context.Context) error {
	bucket, key, err := ParsePath(a.rc.DataSource)
	if err != nil {
		return err
	}
	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if a.chunk.Start > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", a.chunk.Start))
	}
	out, err := a.client.GetObjectWithContext(ctx, in)
	if err != nil {
		return awsError(err, fmt.Sprintf("fetching s3://%s/%s", bucket, key))
	}
	a.lines, err = file.NewLineRange(out.Body, a.chunk)
	return err
}

func (a *LineAccessor) ReadNext(ctx context.Context) (gateway.OneRow, error) {
	pos, line, err := a.lines.Next()
	if err != nil {
		return gateway.OneRow{}, err
	}
	return gateway.OneRow{Key: pos, Data: line}, nil
}

func (a *LineAccessor) CloseForRead() error {
	if a.lines == nil {
		return nil
	}
	return a.lines.Close()
}

func (a *LineAccessor) OpenForWrite(ctx context.Context) error {
	a.buf = &bytes.Buffer{}
	return nil
}

func (a *LineAccessor) WriteNext(ctx context.Context, row gateway.OneRow) error {
	s, ok := row.Data.(string)
	if !ok {
		return gateway.NewErrCodec("unexpected record of type '%T'", row.Data)
	}
	a.buf.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		a.buf.WriteByte('\n')
	}
	return nil
}

// CloseForWrite uploads the lines written as the object
// <prefix>/<xid>_<segment>.
func (a *LineAccessor) CloseForWrite() error {
	if a.buf == nil {
		return nil
	}
	bucket, prefix, err := ParsePath(a.rc.DataSource)
	if err != nil {
		return err
	}
	key := path.Join(prefix, fmt.Sprintf("%s_%d", a.rc.TransactionID, a.rc.SegmentID))
	_, err = a.client.PutObjectWithContext(context.Background(), &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(a.buf.Bytes()),
		ContentLength: aws.Int64(int64(a.buf.Len())),
	})
	a.buf = nil
	if err != nil {
		return awsError(err, fmt.Sprintf("putting s3://%s/%s", bucket, key))
	}
	return nil
}
