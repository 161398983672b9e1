// Command decay-proxy exposes a TimedStore over a subset of the Redis
// wire protocol, so redis-cli and existing client libraries can use it
// as a drop-in TTL cache.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mirkobrombin/go-decay/v1/store"
)

var (
	port     = flag.Int("port", 6380, "Port to listen on")
	addr     = flag.String("addr", "0.0.0.0", "Address to listen on")
	ttl      = flag.Duration("ttl", 5*time.Minute, "Entry lifetime applied on SET")
	interval = flag.Duration("sweep-interval", time.Second, "Sweeper sleep between passes")
)

type server struct {
	store *store.TimedStore[string, []byte]
}

func main() {
	flag.Parse()

	s, err := store.New[string, []byte](*ttl,
		store.WithSweepInterval[string, []byte](*interval),
	)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	srv := &server{store: s}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *addr, *port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	log.Printf("decay-proxy listening on %s:%d (ttl %s)", *addr, *port, *ttl)

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("failed to accept: %v", err)
			continue
		}
		go srv.handle(conn)
	}
}

func (s *server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	respReader := NewRESPReader(reader)
	respWriter := NewRESPWriter(writer)

	for {
		args, err := respReader.ReadCommand()
		if err != nil {
			if err != io.EOF {
				log.Printf("read error: %v", err)
			}
			return
		}

		s.execute(respWriter, args)

		// Consume pipelined commands from buffer
		for reader.Buffered() > 0 {
			args, err := respReader.ReadCommand()
			if err != nil {
				respWriter.Flush()
				return
			}
			s.execute(respWriter, args)
		}

		if err := respWriter.Flush(); err != nil {
			return
		}
	}
}

func (s *server) execute(w *RESPWriter, args [][]byte) {
	if len(args) == 0 {
		return
	}

	cmd := strings.ToUpper(string(args[0]))

	switch cmd {
	case "GET":
		if len(args) < 2 {
			w.WriteError("ERR wrong number of arguments for 'get' command")
			return
		}
		if val, ok := s.store.Get(string(args[1])); ok {
			w.WriteBulk(val)
		} else {
			w.WriteNull()
		}
	case "SET":
		if len(args) < 3 {
			w.WriteError("ERR wrong number of arguments for 'set' command")
			return
		}
		key := string(args[1])
		s.store.Set(key, args[2])
		if len(args) >= 5 && strings.ToUpper(string(args[3])) == "EX" {
			secs, err := strconv.Atoi(string(args[4]))
			if err != nil || secs <= 0 {
				w.WriteError("ERR invalid expire time in 'set' command")
				return
			}
			upd := store.ExpirationUpdate{TTL: time.Duration(secs) * time.Second}
			if err := s.store.SetExpiration(key, upd); err != nil {
				w.WriteError(err.Error())
				return
			}
		}
		w.WriteSimpleString("OK")
	case "DEL":
		if len(args) < 2 {
			w.WriteError("ERR wrong number of arguments for 'del' command")
			return
		}
		removed := 0
		for _, arg := range args[1:] {
			if _, ok := s.store.Delete(string(arg)); ok {
				removed++
			}
		}
		w.WriteInt(int64(removed))
	case "EXISTS":
		if len(args) < 2 {
			w.WriteError("ERR wrong number of arguments for 'exists' command")
			return
		}
		found := 0
		for _, arg := range args[1:] {
			if _, ok := s.store.Get(string(arg)); ok {
				found++
			}
		}
		w.WriteInt(int64(found))
	case "EXPIRE":
		if len(args) < 3 {
			w.WriteError("ERR wrong number of arguments for 'expire' command")
			return
		}
		secs, err := strconv.Atoi(string(args[2]))
		if err != nil || secs <= 0 {
			w.WriteError("ERR invalid expire time in 'expire' command")
			return
		}
		upd := store.ExpirationUpdate{TTL: time.Duration(secs) * time.Second}
		if err := s.store.SetExpiration(string(args[1]), upd); err != nil {
			w.WriteInt(0)
			return
		}
		w.WriteInt(1)
	case "TTL":
		if len(args) < 2 {
			w.WriteError("ERR wrong number of arguments for 'ttl' command")
			return
		}
		d, ok := s.store.TTL(string(args[1]))
		if !ok || d <= 0 {
			w.WriteInt(-2)
			return
		}
		w.WriteInt(int64((d + time.Second - 1) / time.Second))
	case "KEYS":
		if len(args) < 2 {
			w.WriteError("ERR wrong number of arguments for 'keys' command")
			return
		}
		if string(args[1]) != "*" {
			w.WriteError("ERR only the * pattern is supported")
			return
		}
		keys := make([]string, 0, s.store.Len())
		for k := range s.store.Keys() {
			keys = append(keys, k)
		}
		w.WriteArrayHeader(len(keys))
		for _, k := range keys {
			w.WriteBulk([]byte(k))
		}
	case "DBSIZE":
		w.WriteInt(int64(s.store.Len()))
	case "PING":
		if len(args) > 1 {
			w.WriteBulk(args[1])
		} else {
			w.WriteSimpleString("PONG")
		}
	case "COMMAND":
		w.WriteSimpleString("OK")
	case "INFO":
		m := s.store.Metrics()
		info := fmt.Sprintf(
			"# Server\r\nredis_version:6.0.0\r\ndecay_version:1.0.0\r\n# Stats\r\nhits:%d\r\nmisses:%d\r\nexpired:%d\r\nkeys:%d\r\n",
			m.Hits, m.Misses, m.Expired, m.Size,
		)
		w.WriteBulk([]byte(info))
	case "CLIENT":
		w.WriteSimpleString("OK")
	default:
		w.WriteError(fmt.Sprintf("ERR unknown command '%s'", cmd))
	}
}
