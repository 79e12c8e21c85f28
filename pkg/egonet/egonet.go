// Package egonet serves a user's ego network — the user, their active
// friends and their referral edges — straight from the projection store.
package egonet

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// User is one node of the network.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Network is a user's ego network.
type Network struct {
	User       User   `json:"user"`
	Friends    []User `json:"friends"`
	ReferredBy *User  `json:"referred_by,omitempty"`
	Referred   []User `json:"referred"`
}

// Store reads ego networks from the projection store.
type Store struct {
	DB  *sqlx.DB
	Log *zap.Logger
}

// ErrUnknownUser is returned for names the store has never seen.
var ErrUnknownUser = errors.New("unknown user")

// Lookup assembles the ego network for a user name.
func (s *Store) Lookup(ctx context.Context, name string) (*Network, error) {
	var user User
	err := s.DB.GetContext(ctx, &user,
		`SELECT id, name, created_at FROM users WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	} else if err != nil {
		return nil, err
	}
	net := &Network{User: user, Friends: []User{}, Referred: []User{}}

	err = s.DB.SelectContext(ctx, &net.Friends,
		`SELECT u.id, u.name, u.created_at
FROM friendships f
JOIN users u ON u.id = CASE WHEN f.user1_id = $1 THEN f.user2_id ELSE f.user1_id END
WHERE (f.user1_id = $1 OR f.user2_id = $1) AND f.status = 'ACTIVE'
ORDER BY u.name`, user.ID)
	if err != nil {
		return nil, err
	}

	var referrer User
	err = s.DB.GetContext(ctx, &referrer,
		`SELECT u.id, u.name, u.created_at
FROM referrals r
JOIN users u ON u.id = r.referrer_id
WHERE r.referred_id = $1`, user.ID)
	if err == nil {
		net.ReferredBy = &referrer
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = s.DB.SelectContext(ctx, &net.Referred,
		`SELECT u.id, u.name, u.created_at
FROM referrals r
JOIN users u ON u.id = r.referred_id
WHERE r.referrer_id = $1
ORDER BY u.name`, user.ID)
	if err != nil {
		return nil, err
	}
	return net, nil
}

// Router builds the read-API HTTP routes.
func (s *Store) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/users/:name/network", s.handleNetwork)
	return router
}

func (s *Store) handleNetwork(c *gin.Context) {
	net, err := s.Lookup(c.Request.Context(), c.Param("name"))
	if errors.Is(err, ErrUnknownUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
		return
	} else if err != nil {
		s.Log.Error("Ego network lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, net)
}
