package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	cerrors "github.com/estuary/source-singlestore/go/connector-errors"
	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	log "github.com/sirupsen/logrus"
)

const mysqlErrorCodeSecureTransportRequired = 3159

// connectSingleStore opens a control connection, suitable for discovery and
// other short queries. SingleStore speaks the MySQL wire protocol, so the
// go-mysql client is used throughout.
func connectSingleStore(cfg *Config) (*client.Conn, error) {
	var withTimeouts = func(c *client.Conn) error {
		c.ReadTimeout = 60 * time.Second
		c.WriteTimeout = 60 * time.Second
		return nil
	}
	return connect(cfg, withTimeouts)
}

// connectStreaming opens the connection which will carry the OBSERVE query.
// It must have no read timeout: the streaming read blocks indefinitely
// between rows by design, and is unblocked by the shutdown watcher's forced
// cancellation rather than a deadline.
func connectStreaming(cfg *Config) (*client.Conn, error) {
	var withWriteTimeout = func(c *client.Conn) error {
		c.WriteTimeout = 60 * time.Second
		return nil
	}
	return connect(cfg, withWriteTimeout)
}

func connect(cfg *Config, baseOption func(*client.Conn) error) (*client.Conn, error) {
	log.WithFields(log.Fields{
		"address": cfg.Address,
		"user":    cfg.User,
	}).Info("connecting to database")

	var conn *client.Conn
	var serverErr *mysql.MyError
	var withTLS = func(c *client.Conn) error {
		c.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
		return nil
	}
	// Try TLS first and fall back to an unencrypted connection, reporting
	// bad credentials directly and otherwise describing both failures.
	if connWithTLS, errWithTLS := client.Connect(cfg.Address, cfg.User, cfg.Password, cfg.Database, baseOption, withTLS); errWithTLS == nil {
		log.WithField("addr", cfg.Address).Debug("connected with TLS")
		conn = connWithTLS
	} else if errors.As(errWithTLS, &serverErr) && serverErr.Code == mysql.ER_ACCESS_DENIED_ERROR {
		return nil, cerrors.NewUserError(serverErr, "incorrect username or password")
	} else if connWithoutTLS, errWithoutTLS := client.Connect(cfg.Address, cfg.User, cfg.Password, cfg.Database, baseOption); errWithoutTLS == nil {
		log.WithField("addr", cfg.Address).Debug("connected without TLS")
		conn = connWithoutTLS
	} else if errors.As(errWithoutTLS, &serverErr) && serverErr.Code == mysql.ER_ACCESS_DENIED_ERROR {
		log.WithFields(log.Fields{"withTLS": errWithTLS, "nonTLS": errWithoutTLS}).Error("unable to connect to database")
		return nil, cerrors.NewUserError(serverErr, "incorrect username or password")
	} else if errors.As(errWithoutTLS, &serverErr) && serverErr.Code == mysqlErrorCodeSecureTransportRequired {
		return nil, fmt.Errorf("unable to connect to database: %w", errWithTLS)
	} else {
		return nil, fmt.Errorf("unable to connect to database: failed both with TLS (%w) and without TLS (%w)", errWithTLS, errWithoutTLS)
	}

	if _, err := conn.Execute("SELECT true;"); err != nil {
		return nil, fmt.Errorf("error executing no-op query: %w", err)
	}
	return conn, nil
}

// streamRowSource adapts a go-mysql connection to the observe.RowSource
// interface, converting column definitions and field values as they arrive.
type streamRowSource struct {
	conn *client.Conn
}

func (s *streamRowSource) StreamQuery(query string, onResult func(columns []string) error, onRow func(values []any) error) error {
	var result mysql.Result
	return s.conn.ExecuteSelectStreaming(query, &result,
		func(row []mysql.FieldValue) error {
			var values = make([]any, len(row))
			for i := range row {
				values[i] = row[i].Value()
			}
			return onRow(values)
		},
		func(result *mysql.Result) error {
			var columns = make([]string, len(result.Fields))
			for i, field := range result.Fields {
				columns[i] = string(field.Name)
			}
			return onResult(columns)
		})
}

// queryCanceler kills the query running on the streaming connection. The
// KILL statement has to travel on its own short-lived companion connection
// because the streaming connection is fully occupied by the blocking read.
type queryCanceler struct {
	cfg    *Config
	connID uint32
}

func (c *queryCanceler) CancelQuery() error {
	var conn, err = connectSingleStore(c.cfg)
	if err != nil {
		return fmt.Errorf("error opening cancellation connection: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Execute(fmt.Sprintf("KILL QUERY %d;", c.connID)); err != nil {
		return fmt.Errorf("error killing query on connection %d: %w", c.connID, err)
	}
	return nil
}
