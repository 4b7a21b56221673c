package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"taskflow/internal/auth"
	"taskflow/internal/errors"
	"taskflow/internal/model"
)

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *model.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context, role model.Role) ([]model.User, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *MockUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockTokenStore is a mock implementation of TokenStoreInterface.
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) StoreRefreshToken(ctx context.Context, tokenID string, userID string, ttl time.Duration) error {
	args := m.Called(ctx, tokenID, userID, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) GetRefreshToken(ctx context.Context, tokenID string) (string, error) {
	args := m.Called(ctx, tokenID)
	return args.String(0), args.Error(1)
}

func (m *MockTokenStore) DeleteRefreshToken(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

func (m *MockTokenStore) BlacklistAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	args := m.Called(ctx, tokenID, ttl)
	return args.Error(0)
}

func (m *MockTokenStore) IsAccessTokenBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func newTestJWT() *auth.JWTService {
	return auth.NewJWTService("test-secret", 0, 0)
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name          string
		email         string
		password      string
		displayName   string
		role          model.Role
		setupMock     func(*MockUserRepository)
		expectedName  string
		expectedError error
	}{
		{
			name:        "successful registration",
			email:       "Test@Example.com",
			password:    "password123",
			displayName: "Test User",
			role:        model.RoleWorker,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "test@example.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.User")).Return(nil)
			},
			expectedName: "Test User",
		},
		{
			name:     "display name defaults to mailbox",
			email:    "jane@example.com",
			password: "password123",
			role:     model.RoleEmployer,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "jane@example.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.User")).Return(nil)
			},
			expectedName: "jane",
		},
		{
			name:     "email already registered",
			email:    "existing@example.com",
			password: "password123",
			role:     model.RoleWorker,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "existing@example.com").Return(&model.User{Email: "existing@example.com"}, nil)
			},
			expectedError: errors.ErrDuplicateEmail,
		},
		{
			name:     "email held by a deleted account",
			email:    "gone@example.com",
			password: "password123",
			role:     model.RoleWorker,
			setupMock: func(m *MockUserRepository) {
				m.On("FindByEmail", mock.Anything, "gone@example.com").Return(nil, gorm.ErrRecordNotFound)
				m.On("Create", mock.Anything, mock.AnythingOfType("*model.User")).Return(gorm.ErrDuplicatedKey)
			},
			expectedError: errors.ErrDuplicateEmail,
		},
		{
			name:          "unknown role",
			email:         "root@example.com",
			password:      "password123",
			role:          model.Role("root"),
			setupMock:     func(m *MockUserRepository) {},
			expectedError: errors.ErrInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			tt.setupMock(mockRepo)

			service := NewAuthService(mockRepo, newTestJWT(), new(MockTokenStore))
			user, err := service.Register(context.Background(), tt.email, tt.password, tt.displayName, tt.role)

			if tt.expectedError != nil {
				assert.Error(t, err)
				assert.Equal(t, tt.expectedError, err)
				assert.Nil(t, user)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, user)
				assert.Equal(t, tt.role, user.Role)
				assert.Equal(t, tt.expectedName, user.DisplayName)
				assert.NotEqual(t, uuid.Nil, user.ID)
				assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(tt.password)))
			}

			mockRepo.AssertExpectations(t)
		})
	}
}

func TestAuthService_Authenticate(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name          string
		email         string
		password      string
		setupMock     func(*MockUserRepository, *MockTokenStore)
		expectedError error
	}{
		{
			name:     "successful login",
			email:    "test@example.com",
			password: "password123",
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mRepo.On("FindByEmail", mock.Anything, "test@example.com").Return(&model.User{
					ID:           userID,
					Email:        "test@example.com",
					PasswordHash: hashed(t, "password123"),
					Role:         model.RoleWorker,
				}, nil)
				mToken.On("StoreRefreshToken", mock.Anything, mock.AnythingOfType("string"), userID.String(), auth.RefreshTokenExpiry).Return(nil)
			},
		},
		{
			name:     "wrong password",
			email:    "test@example.com",
			password: "nope",
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mRepo.On("FindByEmail", mock.Anything, "test@example.com").Return(&model.User{
					ID:           userID,
					Email:        "test@example.com",
					PasswordHash: hashed(t, "password123"),
				}, nil)
			},
			expectedError: errors.ErrInvalidCredentials,
		},
		{
			name:     "user not found",
			email:    "notfound@example.com",
			password: "password123",
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mRepo.On("FindByEmail", mock.Anything, "notfound@example.com").Return(nil, gorm.ErrRecordNotFound)
			},
			expectedError: errors.ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			mockTokenStore := new(MockTokenStore)
			tt.setupMock(mockRepo, mockTokenStore)

			service := NewAuthService(mockRepo, newTestJWT(), mockTokenStore)
			accessToken, refreshToken, user, err := service.Authenticate(context.Background(), tt.email, tt.password)

			if tt.expectedError != nil {
				assert.Equal(t, tt.expectedError, err)
				assert.Empty(t, accessToken)
				assert.Empty(t, refreshToken)
				assert.Nil(t, user)
			} else {
				assert.NoError(t, err)
				assert.NotEmpty(t, accessToken)
				assert.NotEmpty(t, refreshToken)
				require.NotNil(t, user)
				assert.Equal(t, tt.email, user.Email)
			}

			mockRepo.AssertExpectations(t)
			mockTokenStore.AssertExpectations(t)
		})
	}
}

func TestAuthService_Authorize(t *testing.T) {
	jwtService := newTestJWT()
	employer := &model.User{ID: uuid.New(), Email: "boss@example.com", Role: model.RoleEmployer}

	accessToken, err := jwtService.GenerateAccessToken(employer)
	require.NoError(t, err)
	_, refreshToken, err := jwtService.GenerateRefreshToken(employer)
	require.NoError(t, err)

	tests := []struct {
		name          string
		token         string
		allowed       []model.Role
		setupMock     func(*MockUserRepository, *MockTokenStore)
		expectedError error
	}{
		{
			name:    "employer on employer route",
			token:   accessToken,
			allowed: []model.Role{model.RoleEmployer},
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mToken.On("IsAccessTokenBlacklisted", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
				mRepo.On("FindByID", mock.Anything, employer.ID).Return(employer, nil)
			},
		},
		{
			name:  "any role when no allow-list",
			token: accessToken,
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mToken.On("IsAccessTokenBlacklisted", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
				mRepo.On("FindByID", mock.Anything, employer.ID).Return(employer, nil)
			},
		},
		{
			name:    "employer on worker route",
			token:   accessToken,
			allowed: []model.Role{model.RoleWorker},
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mToken.On("IsAccessTokenBlacklisted", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
				mRepo.On("FindByID", mock.Anything, employer.ID).Return(employer, nil)
			},
			expectedError: errors.ErrForbidden,
		},
		{
			name:  "revoked token",
			token: accessToken,
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mToken.On("IsAccessTokenBlacklisted", mock.Anything, mock.AnythingOfType("string")).Return(true, nil)
			},
			expectedError: errors.ErrUnauthenticated,
		},
		{
			name:  "deleted account",
			token: accessToken,
			setupMock: func(mRepo *MockUserRepository, mToken *MockTokenStore) {
				mToken.On("IsAccessTokenBlacklisted", mock.Anything, mock.AnythingOfType("string")).Return(false, nil)
				mRepo.On("FindByID", mock.Anything, employer.ID).Return(nil, gorm.ErrRecordNotFound)
			},
			expectedError: errors.ErrUnauthenticated,
		},
		{
			name:          "refresh token used as session",
			token:         refreshToken,
			setupMock:     func(*MockUserRepository, *MockTokenStore) {},
			expectedError: errors.ErrUnauthenticated,
		},
		{
			name:          "garbage",
			token:         "not-a-jwt",
			setupMock:     func(*MockUserRepository, *MockTokenStore) {},
			expectedError: errors.ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockUserRepository)
			mockTokenStore := new(MockTokenStore)
			tt.setupMock(mockRepo, mockTokenStore)

			service := NewAuthService(mockRepo, jwtService, mockTokenStore)
			principal, err := service.Authorize(context.Background(), tt.token, tt.allowed...)

			if tt.expectedError != nil {
				assert.Equal(t, tt.expectedError, err)
				assert.Nil(t, principal)
			} else {
				require.NoError(t, err)
				assert.Equal(t, employer.ID, principal.UserID)
				assert.Equal(t, model.RoleEmployer, principal.Role)
				assert.NotEmpty(t, principal.TokenID)
			}

			mockRepo.AssertExpectations(t)
			mockTokenStore.AssertExpectations(t)
		})
	}
}

func TestAuthService_RefreshToken(t *testing.T) {
	jwtService := newTestJWT()
	user := &model.User{ID: uuid.New(), Email: "w@example.com", Role: model.RoleWorker}
	tokenID, refreshToken, err := jwtService.GenerateRefreshToken(user)
	require.NoError(t, err)

	t.Run("stored token", func(t *testing.T) {
		mockRepo := new(MockUserRepository)
		mockTokenStore := new(MockTokenStore)
		mockTokenStore.On("GetRefreshToken", mock.Anything, tokenID).Return(user.ID.String(), nil)
		mockRepo.On("FindByID", mock.Anything, user.ID).Return(user, nil)

		service := NewAuthService(mockRepo, jwtService, mockTokenStore)
		accessToken, err := service.RefreshToken(context.Background(), refreshToken)
		require.NoError(t, err)

		claims, err := jwtService.ValidateToken(accessToken)
		require.NoError(t, err)
		assert.Equal(t, auth.TokenTypeAccess, claims.TokenType)
		assert.Equal(t, user.ID.String(), claims.UserID)
	})

	t.Run("logged out token", func(t *testing.T) {
		mockTokenStore := new(MockTokenStore)
		mockTokenStore.On("GetRefreshToken", mock.Anything, tokenID).Return("", errors.ErrInvalidRefreshToken)

		service := NewAuthService(new(MockUserRepository), jwtService, mockTokenStore)
		_, err := service.RefreshToken(context.Background(), refreshToken)
		assert.Equal(t, errors.ErrInvalidRefreshToken, err)
	})
}

func TestAuthService_Logout(t *testing.T) {
	jwtService := newTestJWT()
	user := &model.User{ID: uuid.New(), Email: "w@example.com", Role: model.RoleWorker}
	tokenID, refreshToken, err := jwtService.GenerateRefreshToken(user)
	require.NoError(t, err)
	accessToken, err := jwtService.GenerateAccessToken(user)
	require.NoError(t, err)
	accessClaims, err := jwtService.ValidateToken(accessToken)
	require.NoError(t, err)

	mockTokenStore := new(MockTokenStore)
	mockTokenStore.On("DeleteRefreshToken", mock.Anything, tokenID).Return(nil)
	mockTokenStore.On("BlacklistAccessToken", mock.Anything, accessClaims.ID, mock.MatchedBy(func(ttl time.Duration) bool {
		return ttl > 0 && ttl <= auth.AccessTokenExpiry
	})).Return(nil)

	service := NewAuthService(new(MockUserRepository), jwtService, mockTokenStore)
	require.NoError(t, service.Logout(context.Background(), refreshToken, accessToken))
	mockTokenStore.AssertExpectations(t)

	err = service.Logout(context.Background(), "garbage", "")
	assert.Equal(t, errors.ErrInvalidRefreshToken, err)
}
