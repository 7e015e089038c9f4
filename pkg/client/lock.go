package client

import "github.com/pixperk/zlock/pkg/lock"

// Locker returns a revision locker whose records live on the node
func (c *Client) Locker(opts ...lock.Option) *lock.Locker {
	return lock.NewRevisionLocker(c, append([]lock.Option{lock.WithLogger(c.log)}, opts...)...)
}
