package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Guo-collabhash/SIweidaotu/internal/accounts"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
)

func handleRegister(accountService *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "email, password and username are required",
				Details: err.Error(),
			})
			return
		}

		user, err := accountService.Register(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, accounts.ErrEmailTaken) {
				c.JSON(http.StatusConflict, types.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "registration successful",
			"user":    user,
		})
	}
}

func handleLogin(accountService *accounts.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "email and password are required",
				Details: err.Error(),
			})
			return
		}

		user, err := accountService.Login(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, accounts.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, types.ErrorResponse{Error: err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "login successful",
			"user":    user,
		})
	}
}
