package jwttoken

// ValidatorAdapter adapts JWTService to the middleware.TokenValidator
// interface without the middleware importing jwt types.
type ValidatorAdapter struct {
	Service *JWTService
}

func (a ValidatorAdapter) ValidateToken(tokenString string) (string, string, error) {
	claims, err := a.Service.ValidateToken(tokenString)
	if err != nil {
		return "", "", err
	}
	return claims.TenantID, claims.UserID, nil
}
