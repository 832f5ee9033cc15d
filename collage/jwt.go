package collage

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims of the viewer jwt issued by the platform.
// the jwt is verified remotely; clients only read the claims.
type ViewerJwt struct {
	UserId   Id
	UserName string
	ClientId Id
}

func ParseViewerJwtUnverified(jwt string) (*ViewerJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	viewerJwt := &ViewerJwt{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			viewerJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"].(string); ok {
		viewerJwt.UserName = userName
	}
	if clientIdStr, ok := claims["client_id"].(string); ok {
		if clientId, err := ParseId(clientIdStr); err == nil {
			viewerJwt.ClientId = clientId
		}
	}

	return viewerJwt, nil
}
