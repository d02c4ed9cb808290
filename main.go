package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/tachdev/govern/motor"
	"github.com/tachdev/govern/motor/tacho"
)

const SERIAL_BAUD = 115200

type EnvConfig struct {
	JWT_ISSUER string `env:"DEVICE_UUID" envDefault:"DEV"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	SRCDIR     string `env:"SRCDIR" envDefault:"."`
	DB         *storm.DB
	Motors     map[string]*motor.RegulatedMotor
	Simulated  bool
}

var (
	ENV *EnvConfig
)

func init() {
	// Load main config
	ENV = new(EnvConfig)
	env.Parse(ENV)
	ENV.Motors = make(map[string]*motor.RegulatedMotor)

	// setup database
	dbFile, _ := filepath.Abs("./tmp/dev.db")
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.Mkdir(dir, 0755)
	}

	db, err := openDb(dbFile)
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	return
}

func main() {
	// process flags
	simulated := flag.Bool("sim", false, "Run the motors in simulator mode")
	port := flag.String("port", "0.0.0.0:80", "Specify the ip:port to listen on")
	configPath := flag.String("config", "", "Path to the motor config yaml")
	flag.Parse()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	defer ENV.DB.Close() // close database when finished

	// Bind the motors described by the device config
	filename := *configPath
	if filename == "" {
		var err error
		filename, err = filepath.Abs(ENV.SRCDIR + "/motors.yaml")
		if err != nil {
			panic(err)
		}
	}

	config, err := motor.LoadConfig(filename)
	if err != nil {
		panic(fmt.Sprintf("Unable to load motor config: %v", err))
	}

	ENV.Simulated = *simulated
	if err := bindMotors(config); err != nil {
		panic(fmt.Sprintf("Unable to bind motors: %v", err))
	}
	defer func() {
		for _, m := range ENV.Motors {
			m.Close()
		}
	}()

	//---
	// Create a local shell
	//---
	{
		motorNames := func([]string) []string {
			keys := make([]string, 0, len(ENV.Motors))
			for k := range ENV.Motors {
				keys = append(keys, k)
			}
			return keys
		}

		motorArg := func(c *ishell.Context) *motor.RegulatedMotor {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("motor name required"))
				return nil
			}
			m, ok := ENV.Motors[c.Args[0]]
			if !ok {
				c.Err(fmt.Errorf("no motor named %q", c.Args[0]))
				return nil
			}
			return m
		}

		shell := ishell.New()
		shell.Println("Motor regulation development shell")
		shell.ShowPrompt(true)
		shell.AddCmd(&ishell.Cmd{
			Name: "createsuperuser",
			Help: "createsuperuser <email> <password>",
			Func: func(c *ishell.Context) {
				// disable the '>>>' for cleaner same line input.
				c.ShowPrompt(false)
				defer c.ShowPrompt(true) // yes, revert when done.

				// get email
				var email string
				if len(c.Args) >= 1 {
					email = c.Args[0]
				} else {
					c.Print("Email: ")
					email = c.ReadLine()
				}

				// get password
				var password string
				if len(c.Args) >= 2 {
					password = c.Args[1]
				} else {
					c.Print("Password: ")
					password = c.ReadPassword()
				}

				// create user
				user := &User{
					Email: email,
					Name:  email,
					Admin: true,
				}
				user.SetPassword([]byte(password))
				err := ENV.DB.Save(user)
				if err != nil {
					panic(err)
				}

				c.Println("Superuser created")
			},
		})

		// Motion commands share the API dispatch table
		for _, name := range []string{"forward", "backward", "stop", "flt", "rotate", "rotateto", "speed", "accel", "stall", "reset", "suspend"} {
			cmd := name
			shell.AddCmd(&ishell.Cmd{
				Name:      cmd,
				Completer: motorNames,
				Help:      cmd + " <motor> [value]",
				Func: func(c *ishell.Context) {
					m := motorArg(c)
					if m == nil {
						return
					}
					var value int
					if len(c.Args) >= 2 {
						value, _ = strconv.Atoi(c.Args[1])
					}
					if err := dispatchCommand(m, cmd, value, true); err != nil {
						c.Err(err)
					}
				},
			})
		}

		shell.AddCmd(&ishell.Cmd{
			Name:      "state",
			Completer: motorNames,
			Help:      "state <motor>",
			Func: func(c *ishell.Context) {
				m := motorArg(c)
				if m == nil {
					return
				}
				state, err := motorState(m)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("%s: %s pos=%d vel=%d speed=%d accel=%d\n",
					state.Name, state.State, state.Position, state.RotationSpeed, state.Speed, state.Acceleration)
			},
		})

		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		// login
		r.Post("/login", Login)

		r.Route("/", func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)

			r.Route("/motors", func(r chi.Router) {
				r.Get("/", ListMotors)

				r.Route("/{motor}", func(r chi.Router) {
					r.Use(MotorCtx)
					r.Get("/", GetMotorState)
					r.Post("/command", PostMotorCommand)
				})
			})
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			// Enable JWT validation in production
			r.Use(ValidateJWT)
		} else {
			fmt.Println("Running in debug mode. Authentication disabled.")
		}

		r.Route("/motors/{motor}", func(r chi.Router) {
			r.Use(MotorCtx)
			r.Get("/", StreamHandler)
		})
	})

	fmt.Println("Listening on port", *port)
	if err := http.ListenAndServe(*port, r); err != nil {
		log.Fatal(err)
	}
}

// bindMotors opens a port per configured motor and starts its regulator.
// Hardware motors share one serial bus per device path; simulated motors
// each get their own ideal servo.
func bindMotors(config motor.Config) error {
	buses := make(map[string]*tacho.SerialBus)

	for name, cfg := range config.Motors {
		var port tacho.Port
		if ENV.Simulated {
			port = motor.NewSimulatedPort()
		} else {
			bus, ok := buses[cfg.Bus]
			if !ok {
				var err error
				bus, err = tacho.OpenSerialBus(cfg.Bus, SERIAL_BAUD)
				if err != nil {
					return err
				}
				buses[cfg.Bus] = bus
			}

			node, err := tacho.OpenNode(bus, cfg.Node)
			if err != nil {
				return err
			}
			port = node
		}

		m, err := motor.New(name, port, cfg)
		if err != nil {
			return err
		}
		ENV.Motors[name] = m
	}

	return nil
}

func openDb(dbFile string) (db *storm.DB, err error) {
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&User{}); err != nil {
		return nil, err
	}

	return
}
