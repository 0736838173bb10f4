// Copyright 2024 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file manages running the appliance as a platform service, in
// addition to running in the foreground.

package svc

import (
	"os"

	"github.com/kardianos/service"
	"github.com/sirupsen/logrus"
)

// Program adapts a cancellable run loop to the kardianos/service lifecycle.
type Program struct {
	svc    service.Service
	Run    func(cancel <-chan struct{})
	cancel chan struct{}
}

// NewProgram wraps run so it can be started/stopped by the OS service manager.
func NewProgram(run func(cancel <-chan struct{})) *Program {
	return &Program{Run: run, cancel: make(chan struct{})}
}

// StartService installs p as a service (when serviceCmd names an action
// such as "install"/"start"/"stop") or runs it under the service manager.
func (p *Program) StartService(serviceCmd string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg := &service.Config{
		Name:             "calendar-mirror",
		DisplayName:      "calendar-mirror",
		Description:      "Calendar mirror appliance control loop",
		WorkingDirectory: dir,
		Option: service.KeyValue{
			"UserService": true,
		},
	}
	s, err := service.New(p, cfg)
	if err != nil {
		return err
	}
	p.svc = s

	if len(serviceCmd) != 0 {
		if err := service.Control(s, serviceCmd); err != nil {
			logrus.WithField("validActions", service.ControlAction).Error("svc: invalid service command")
			return err
		}
		return nil
	}
	return s.Run()
}

// Start satisfies service.Interface; it launches the run loop in the
// background and returns immediately, as the service manager requires.
func (p *Program) Start(s service.Service) error {
	go p.Run(p.cancel)
	return nil
}

// Stop satisfies service.Interface; it signals the run loop's cancellation channel.
func (p *Program) Stop(s service.Service) error {
	close(p.cancel)
	return nil
}
