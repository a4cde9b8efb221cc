package auth

import "strings"

type Repository interface {
	LoadAll() ([]string, error)
}

// Service answers allow-list membership by Telegram username.
// Membership is fixed after construction.
type Service struct {
	allowed map[string]struct{}
}

func NewWithRepo(repo Repository, initial []string) (*Service, error) {
	s := &Service{allowed: make(map[string]struct{})}
	if repo != nil {
		users, err := repo.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			s.add(u)
		}
	}
	for _, u := range initial {
		s.add(u)
	}
	return s, nil
}

func (s *Service) add(username string) {
	username = normalize(username)
	if username == "" {
		return
	}
	s.allowed[username] = struct{}{}
}

func (s *Service) IsAllowed(username string) bool {
	if s == nil {
		return false
	}
	username = normalize(username)
	if username == "" {
		return false
	}
	_, ok := s.allowed[username]
	return ok
}

func (s *Service) Len() int { return len(s.allowed) }

func normalize(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}
