package stor

import (
	"sync"

	"github.com/hashicorp/go-uuid"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"gorm.io/gorm"
)

// InMemoryUserStor is a UserStor over a slice of users. Lookups that miss return
// gorm.ErrRecordNotFound so callers can treat it like the gorm store.
type InMemoryUserStor struct {
	mu     sync.Mutex
	users  []mcmodel.User
	nextID int
}

func NewInMemoryUserStor(users []mcmodel.User) *InMemoryUserStor {
	s := &InMemoryUserStor{users: users}
	for _, u := range users {
		if u.ID > s.nextID {
			s.nextID = u.ID
		}
	}

	return s
}

func (s *InMemoryUserStor) CreateUser(user *mcmodel.User) (*mcmodel.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return nil, gorm.ErrDuplicatedKey
		}
	}

	var err error
	if user.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	if user.ApiToken == "" {
		if user.ApiToken, err = uuid.GenerateUUID(); err != nil {
			return nil, err
		}
	}

	s.nextID++
	user.ID = s.nextID
	s.users = append(s.users, *user)

	return user, nil
}

func (s *InMemoryUserStor) GetUserByID(id int) (*mcmodel.User, error) {
	return s.find(func(u mcmodel.User) bool { return u.ID == id })
}

func (s *InMemoryUserStor) GetUserByEmail(email string) (*mcmodel.User, error) {
	return s.find(func(u mcmodel.User) bool { return u.Email == email })
}

func (s *InMemoryUserStor) GetUserByAPIToken(apitoken string) (*mcmodel.User, error) {
	return s.find(func(u mcmodel.User) bool { return u.ApiToken == apitoken })
}

func (s *InMemoryUserStor) find(matches func(u mcmodel.User) bool) (*mcmodel.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if matches(u) {
			user := u
			return &user, nil
		}
	}

	return nil, gorm.ErrRecordNotFound
}
