package domain

type SendCommand struct {
	SenderID string `validate:"required"`
	TargetID string `validate:"required"`
	Body     string `validate:"required,max=4096"`
}

type RegisterUserCommand struct {
	DisplayName string `validate:"required,min=1,max=64"`
}
