package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *GatewayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Stream.MaxAttempts < 1 {
		return errors.New("stream.max_attempts must be >= 1")
	}
	if c.Stream.QueueCapacity < 1 {
		return errors.New("stream.queue_capacity must be >= 1")
	}
	if c.Stream.ReconnectBase <= 0 {
		return errors.New("stream.reconnect_base must be positive")
	}

	if c.Vision.ConfidenceThreshold < 0 || c.Vision.ConfidenceThreshold > 1 {
		return fmt.Errorf("vision.confidence_threshold must be in [0, 1], got %v", c.Vision.ConfidenceThreshold)
	}

	if c.Archive.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Memory.MaxMessages < 1 {
		return errors.New("memory.max_messages must be >= 1")
	}
	if c.Memory.SceneHistory < 1 {
		return errors.New("memory.scene_history must be >= 1")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
