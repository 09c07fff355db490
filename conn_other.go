//go:build !unix

package minibgp

func (c *Connection) readAvailable(b []byte) (int, error) {
	return c.readWithDeadline(b)
}
