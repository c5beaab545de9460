// Package client implements the client of the key-value server.
//
// Key Components:
//
//   - Client: Set, Get and Delete over any transport.IClientTransport.
//     Responses with status Error are returned as ErrServer, a missing key
//     is reported through the boolean result.
//
//   - Dial: Creates the TCP or Unix transport named in the configuration.
//
// Usage Example:
//
//	c, err := client.Dial(common.ClientConfig{
//		Endpoint:      "localhost:8080",
//		Transport:     common.TransportTCP,
//		TimeoutSecond: 5,
//	})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	c.Set([]byte("mykey"), []byte("myvalue"))
//	value, found, _ := c.Get([]byte("mykey"))
//
// Thread Safety:
//
//	A Client is thread-safe. Requests of concurrent goroutines are pipelined
//	on one connection and matched to their responses by request id.
package client
