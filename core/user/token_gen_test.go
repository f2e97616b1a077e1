package user

import (
	"testing"
	"time"
)

func TestMakeVerifyToken(t *testing.T) {
	gen := newTokenGenerator("secret", 3*24*time.Hour)

	now := time.Now()
	usr := User{
		ID:        "d9b1d7db-d1a8-4d6e-8c56-5e1f0c4d1c11",
		Name:      "T",
		Username:  "tester",
		Email:     "t@test.test",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
	_ = usr.SetPassword("pwd")

	validToken := gen.makeToken(usr)

	// generate an expired token
	dayLate := gen.timeout + (24 * time.Hour)
	gen.nowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken := gen.makeToken(usr)
	gen.nowFunc = time.Now // reset

	// a new login invalidates previous tokens
	loggedIn := usr
	loggedIn.LastLogin = now.Add(time.Minute)

	tests := []struct {
		name    string
		usr     User
		token   string
		wantErr error
	}{
		{name: "no token", usr: usr, wantErr: errInvalidToken},
		{name: "invalid parts len", usr: usr, token: "lmaooolol", wantErr: errInvalidToken},
		{name: "invalid base32", usr: usr, token: "hahaha-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid timestamp", usr: usr, token: "NRXWY-sigsig-sig", wantErr: errInvalidToken},
		{name: "invalid token", usr: usr, token: "HE4TS-sigsig-sig", wantErr: errInvalidToken},
		{name: "expired token", usr: usr, token: expiredToken, wantErr: errTokenExpired},
		{name: "user logged in since", usr: loggedIn, token: validToken, wantErr: errInvalidToken},
		{name: "valid token", usr: usr, token: validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := gen.verifyToken(tt.usr, tt.token); err != tt.wantErr {
				t.Errorf("verifyToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifyToken_clock(t *testing.T) {
	gen := newTokenGenerator("secret", 3*24*time.Hour)
	usr := User{ID: "d9b1d7db-d1a8-4d6e-8c56-5e1f0c4d1c11", Username: "tester", LastLogin: time.Now()}
	token := gen.makeToken(usr)

	gen.nowFunc = func() time.Time { return time.Now().Add(2 * 24 * time.Hour) }
	if err := gen.verifyToken(usr, token); err != nil {
		t.Errorf("verifyToken() within timeout error = %v", err)
	}

	gen.nowFunc = func() time.Time { return time.Now().Add(5 * 24 * time.Hour) }
	if err := gen.verifyToken(usr, token); err != errTokenExpired {
		t.Errorf("verifyToken() after timeout error = %v, wantErr %v", err, errTokenExpired)
	}
}

func TestEncodeDecodeUID(t *testing.T) {
	usr := User{ID: "d9b1d7db-d1a8-4d6e-8c56-5e1f0c4d1c11"}
	got, err := decodeUID(EncodeUID(usr))
	if err != nil {
		t.Fatalf("decodeUID() error = %v", err)
	}
	if got != usr.ID {
		t.Errorf("decodeUID() = %v, want %v", got, usr.ID)
	}
}
