package kafka

// SetCluster replaces the function returning the cluster of a broker list.
func SetCluster(c *Connector, fn func(brokers []string) Cluster) {
	c.cluster = fn
}
