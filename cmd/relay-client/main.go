// Command relay-client is a minimal interactive TCP client for the relay:
// lines typed on stdin go to the server, incoming lines print to stdout.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
)

func main() {
	addr := flag.String("addr", "localhost:50000", "server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()

	// Print incoming lines until the server closes the connection
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	}()

	stdin := bufio.NewScanner(os.Stdin)
	for stdin.Scan() {
		if _, err := fmt.Fprintln(conn, stdin.Text()); err != nil {
			log.Printf("Write failed: %v", err)
			break
		}
		select {
		case <-done:
			return
		default:
		}
	}

	conn.Close()
	<-done
}
