package s3

import "github.com/aws/aws-sdk-go/service/s3/s3iface"

// SetClientFunc replaces the function creating the clients of c.
func SetClientFunc(c *Connector, fn func(cfg Config) (s3iface.S3API, error)) {
	c.newClient = fn
}
